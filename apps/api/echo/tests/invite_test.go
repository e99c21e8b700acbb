package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/darasahq/darasa/apps/api/echo"
	"github.com/darasahq/darasa/core/invite"
	"github.com/darasahq/darasa/core/user"
	emailsvc "github.com/darasahq/darasa/services/email"
	testutil "github.com/darasahq/darasa/tests"
)

func Test_inviteApi_issue(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	class := testutil.CreateClass(t, schRepo, sch.ID, "Grade 4A")
	std := testutil.CreateStudent(t, schRepo, sch.ID, class.ID, "Amani K.", "parent@test.cd")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, sch.ID, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", user.RoleTeacher, sch.ID, true)
	parent := testutil.CreateUser(t, usrRepo, "Parent", "parent0@test.cd", "", user.RoleParent, sch.ID, true)

	adminToken := getToken(t, admin)

	teacherInvite := func(email string) []byte {
		return marchallObj(t, invite.NewInvite{
			Email:    email,
			Role:     user.RoleTeacher,
			SchoolID: sch.ID,
			Teacher:  &invite.TeacherPayload{Name: "New Teacher", Subjects: []string{"Math"}, AssignedClassIDs: []string{class.ID}},
		})
	}
	parentInvite := func(email string) []byte {
		return marchallObj(t, invite.NewInvite{
			Email:    email,
			Role:     user.RoleParent,
			SchoolID: sch.ID,
			Parent:   &invite.ParentPayload{StudentID: std.ID},
		})
	}

	tests := []httpTest{
		{
			name: "Auth required", method: http.MethodPost, path: "/v1/invites",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "Staff required", method: http.MethodPost, path: "/v1/invites", token: getToken(t, parent),
			body: parentInvite("p@test.cd"), wantCode: http.StatusForbidden, wantData: marchallObj(t, errPermissionDenied),
		},
		{
			name: "Validation: required fields", method: http.MethodPost, path: "/v1/invites", token: adminToken,
			body: []byte("{}"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"email":     "this field is required",
				"role":      "this field is required",
				"school_id": "this field is required",
			}),
		},
		{
			name: "Validation: admins cannot be invited", method: http.MethodPost, path: "/v1/invites", token: adminToken,
			body:     marchallObj(t, invite.NewInvite{Email: "a@test.cd", Role: user.RoleAdmin, SchoolID: sch.ID}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"role": "only teachers and parents can be invited"}),
		},
		{
			name: "Validation: payload must match role", method: http.MethodPost, path: "/v1/invites", token: adminToken,
			body:     marchallObj(t, invite.NewInvite{Email: "a@test.cd", Role: user.RoleTeacher, SchoolID: sch.ID}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"teacher": "teacher payload is required"}),
		},
		{
			name: "Teachers cannot invite teachers", method: http.MethodPost, path: "/v1/invites", token: getToken(t, teacher),
			body: teacherInvite("t@test.cd"), wantCode: http.StatusForbidden, wantData: marchallObj(t, errPermissionDenied),
		},
		{
			name: "Email already bound to a role", method: http.MethodPost, path: "/v1/invites", token: adminToken,
			body: teacherInvite(teacher.Email), wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "this email is already bound to an account"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Admin invites teacher", func(t *testing.T) {
		emailsvc.ClearSentMessages()

		req, rec := newAuthRequest(http.MethodPost, "/v1/invites", adminToken, teacherInvite("newt@test.cd"))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
		}
		var inv invite.Invite
		decodeObj(t, rec, &inv)
		if inv.Status != invite.StatusPending {
			t.Errorf("Status = %s; want %s", inv.Status, invite.StatusPending)
		}
		if inv.CreatedBy != admin.UID {
			t.Errorf("CreatedBy = %s; want %s", inv.CreatedBy, admin.UID)
		}
		if len(emailsvc.SentMessages) != 1 {
			t.Errorf("sent %d emails; want 1", len(emailsvc.SentMessages))
		}
		if link := lastSentLink(t); link.Query().Get("iid") != inv.ID {
			t.Errorf("link references invite %q; want %q", link.Query().Get("iid"), inv.ID)
		}
	})

	t.Run("Teacher invites parent", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/invites", getToken(t, teacher), parentInvite("newp@test.cd"))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Errorf("code = %v; want %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
		}
	})

	t.Run("Dispatch failure returns the persisted invite", func(t *testing.T) {
		mailSvc.Err = fmt.Errorf("smtp down")
		defer func() { mailSvc.Err = nil }()

		req, rec := newAuthRequest(http.MethodPost, "/v1/invites", adminToken, teacherInvite("flaky@test.cd"))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusBadGateway, rec.Body.String())
		}
		var resp InviteDispatchFailedResponse
		decodeObj(t, rec, &resp)
		if resp.Invite.ID == "" {
			t.Error("invite was not persisted")
		}

		// remediation is an explicit resend, not a new invite
		mailSvc.Err = nil
		req, rec = newAuthRequest(http.MethodPost, "/v1/invites/"+resp.Invite.ID+"/resend", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("resend code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
	})
}

func Test_inviteApi_query(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	class := testutil.CreateClass(t, schRepo, sch.ID, "Grade 4A")
	std := testutil.CreateStudent(t, schRepo, sch.ID, class.ID, "Amani K.", "parent@test.cd")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, sch.ID, true)

	sch2 := testutil.CreateSchool(t, schRepo, "Kivu High")
	admin2 := testutil.CreateUser(t, usrRepo, "Admin2", "admin2@test.cd", "", user.RoleAdmin, sch2.ID, true)

	ctx := context.Background()
	issue := func(ni invite.NewInvite, actor user.User) invite.Invite {
		inv, err := invSvc.Issue(ctx, ni, actor)
		if err != nil {
			t.Fatalf("Issue(): %v", err)
		}
		return inv
	}
	inv1 := issue(invite.NewInvite{
		Email: "t1@test.cd", Role: user.RoleTeacher, SchoolID: sch.ID,
		Teacher: &invite.TeacherPayload{Name: "T One", AssignedClassIDs: []string{class.ID}},
	}, admin)
	inv2 := issue(invite.NewInvite{
		Email: "t2@test.cd", Role: user.RoleTeacher, SchoolID: sch.ID,
		Teacher: &invite.TeacherPayload{Name: "T Two"},
	}, admin)
	inv3 := issue(invite.NewInvite{
		Email: "p1@test.cd", Role: user.RoleParent, SchoolID: sch.ID,
		Parent: &invite.ParentPayload{StudentID: std.ID},
	}, admin)

	adminToken := getToken(t, admin)

	queryIDs := func(t *testing.T, token, rawQuery string) []string {
		t.Helper()
		path := "/v1/invites"
		if rawQuery != "" {
			path += "?" + rawQuery
		}
		req, rec := newAuthRequest(http.MethodGet, path, token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var invites []invite.Invite
		decodeObj(t, rec, &invites)
		ids := make([]string, 0, len(invites))
		for _, inv := range invites {
			ids = append(ids, inv.ID)
		}
		return ids
	}

	t.Run("Auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/invites")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})
	t.Run("Get all", func(t *testing.T) {
		assert.ElementsMatch(t, []string{inv1.ID, inv2.ID, inv3.ID}, queryIDs(t, adminToken, ""))
	})
	t.Run("Filter by role", func(t *testing.T) {
		assert.ElementsMatch(t, []string{inv1.ID, inv2.ID}, queryIDs(t, adminToken, "role="+user.RoleTeacher))
	})
	t.Run("Filter by email", func(t *testing.T) {
		assert.ElementsMatch(t, []string{inv3.ID}, queryIDs(t, adminToken, "email="+url.QueryEscape("p1@test.cd")))
	})
	t.Run("Other schools are invisible", func(t *testing.T) {
		assert.Empty(t, queryIDs(t, getToken(t, admin2), ""))
	})
	t.Run("Cross-school retrieve is not found", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/invites/"+inv1.ID, getToken(t, admin2))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		}, rec)
	})
	t.Run("Retrieve", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/invites/"+inv1.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, inv1)}, rec)
	})
}

func Test_inviteApi_revoke(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, sch.ID, true)
	adminToken := getToken(t, admin)

	inv, err := invSvc.Issue(context.Background(), invite.NewInvite{
		Email: "t@test.cd", Role: user.RoleTeacher, SchoolID: sch.ID,
		Teacher: &invite.TeacherPayload{Name: "T"},
	}, admin)
	if err != nil {
		t.Fatalf("Issue(): %v", err)
	}

	req, rec := newAuthRequest(http.MethodDelete, "/v1/invites/"+inv.ID, adminToken)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	// a dead invite cannot be resent
	req, rec = newAuthRequest(http.MethodPost, "/v1/invites/"+inv.ID+"/resend", adminToken)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusGone, wantData: marchallObj(t, httpErr{Error: "invite has expired or been revoked"}),
	}, rec)
}

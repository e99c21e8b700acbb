package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/dgrijalva/jwt-go"

	. "github.com/darasahq/darasa/apps/api/echo"
	"github.com/darasahq/darasa/core/user"
	testutil "github.com/darasahq/darasa/tests"
)

func Test_userApi_login(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", goodPwd, user.RoleAdmin, sch.ID, true)
	testutil.CreateUser(t, usrRepo, "Gone", "gone@test.cd", goodPwd, user.RoleAdmin, sch.ID, false)

	login := func(email, pwd string) []byte {
		return marchallObj(t, LoginRequest{Email: email, Password: pwd})
	}

	tests := []httpTest{
		{
			name: "Validation: required fields", body: []byte("{}"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"email":    "this field is required",
				"password": "this field is required",
			}),
		},
		{
			name: "Unknown email", body: login("who@test.cd", goodPwd), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Wrong password", body: login(admin.Email, "nope"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Deactivated account", body: login("gone@test.cd", goodPwd), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Login", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/users/login", login(admin.Email, goodPwd))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp LoginResponse
		decodeObj(t, rec, &resp)

		claims := new(Claims)
		if _, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return conf.SecretKey, nil
		}); err != nil {
			t.Fatalf("parsing token: %v", err)
		}
		if claims.Subject != admin.UID || !claims.IsAdmin {
			t.Errorf("claims = %+v", claims)
		}

		// login stamps lastLogin
		usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{UID: admin.UID})
		if err != nil {
			t.Fatalf("GetUser(): %v", err)
		}
		if usr.LastLogin.IsZero() {
			t.Error("LastLogin was not set")
		}
	})
}

func Test_userApi_me(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", user.RoleTeacher, sch.ID, true)

	t.Run("Auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/users/me")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})
	t.Run("Me", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/me", getToken(t, teacher))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, teacher)}, rec)
	})
}

func Test_userApi_userQuery(t *testing.T) {
	resetDB(t)

	path := func(search string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, sch.ID, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", user.RoleTeacher, sch.ID, true)
	parent := testutil.CreateUser(t, usrRepo, "Parent", "parent@test.cd", "", user.RoleParent, sch.ID, true)

	adminToken := getToken(t, admin)
	empty := marchallList(t, []interface{}{}...)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, teacher), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errPermissionDenied),
		},
		{
			name: "Get all", path: "/v1/users", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, admin, teacher, parent),
		},
		{name: "search (unknown)", path: path("lol"), token: adminToken, wantCode: http.StatusOK, wantData: empty},
		{
			name: "search=teach", path: path("teach"), token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, teacher),
		},
		{
			name: "role=parent", path: path("", user.RoleParent), token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, parent),
		},
		{
			name: "role=admin,teacher", path: path("", user.RoleAdmin, user.RoleTeacher), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, admin, teacher),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_queryRoles(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, sch.ID, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", user.RoleTeacher, sch.ID, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", token: getToken(t, teacher), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errPermissionDenied),
		},
		{
			name: "Get roles", token: getToken(t, admin), wantCode: http.StatusOK,
			wantData: marchallObj(t, user.Roles),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users/roles", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_destroy(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schRepo, "Bumi Academy")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, sch.ID, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "", user.RoleTeacher, sch.ID, true)
	adminToken := getToken(t, admin)

	t.Run("No self delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+admin.UID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errPermissionDenied)}, rec)
	})
	t.Run("Destroy", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+teacher.UID, adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusNoContent, rec.Body.String())
		}
		if _, err := usrRepo.GetUser(context.Background(), user.GetFilter{UID: teacher.UID}); err != user.ErrNotFound {
			t.Errorf("GetUser() err = %v; want %v", err, user.ErrNotFound)
		}
	})
}

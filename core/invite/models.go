package invite

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

// Invite statuses. pending -> consumed happens exactly once; consumed,
// expired and revoked are terminal.
const (
	StatusPending  = "pending"
	StatusConsumed = "consumed"
	StatusExpired  = "expired"
	StatusRevoked  = "revoked"
)

// TeacherPayload is the role-specific grant carried by a teacher invite.
type TeacherPayload struct {
	Name             string   `json:"name" validate:"required"`
	Subjects         []string `json:"subjects"`
	AssignedClassIDs []string `json:"assigned_class_ids"`
}

// ParentPayload is the role-specific grant carried by a parent invite.
type ParentPayload struct {
	StudentID string `json:"student_id" validate:"required"`
}

// Invite represents a pending grant of role+school(+class/student) access to
// an email address not yet bound to an identity. At most one pending Invite
// exists per (email, school) pair; re-issuing supersedes the previous one.
type Invite struct {
	ID       string `json:"id"`
	Email    string `json:"email"` // normalized: lowercased, trimmed
	Role     string `json:"role"`
	SchoolID string `json:"school_id"`

	// exactly one of these is set, matching Role
	Teacher *TeacherPayload `json:"teacher,omitempty"`
	Parent  *ParentPayload  `json:"parent,omitempty"`

	Status      string    `json:"status"`
	ConsumedUID string    `json:"consumed_uid,omitempty"` // result snapshot for idempotent replay
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	ExpiresAt   time.Time `json:"expires_at"` // UTC
}

func (inv *Invite) IsPending() bool  { return inv.Status == StatusPending }
func (inv *Invite) IsConsumed() bool { return inv.Status == StatusConsumed }

// IsExpired reports whether the invite can no longer be consumed, either by
// terminal status or because its deadline passed unconsumed. Expiry is
// enforced lazily; a pending row past its deadline is treated as expired.
func (inv *Invite) IsExpired(now time.Time) bool {
	if inv.Status == StatusExpired || inv.Status == StatusRevoked {
		return true
	}
	return inv.IsPending() && now.After(inv.ExpiresAt)
}

// NewInvite contains information needed to issue a new Invite.
type NewInvite struct {
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required,invitablerole"`
	SchoolID string `json:"school_id" validate:"required"`

	Teacher *TeacherPayload `json:"teacher,omitempty"`
	Parent  *ParentPayload  `json:"parent,omitempty"`
}

func (ni *NewInvite) Validate(validate *validator.Validate) error {
	ni.Email = core.CleanString(ni.Email, true /* lower */)
	ni.Role = core.CleanString(ni.Role, true /* lower */)
	ni.SchoolID = core.CleanString(ni.SchoolID)

	if err := validate.Struct(ni); err != nil {
		return err
	}

	// the payload variant must match the role
	switch ni.Role {
	case user.RoleTeacher:
		if ni.Teacher == nil {
			return core.NewValidationError(nil, core.FieldError{Field: "teacher", Error: "teacher payload is required"})
		}
		ni.Teacher.Name = core.CleanString(ni.Teacher.Name)
		if err := validate.Struct(ni.Teacher); err != nil {
			return err
		}
	case user.RoleParent:
		if ni.Parent == nil {
			return core.NewValidationError(nil, core.FieldError{Field: "parent", Error: "parent payload is required"})
		}
		ni.Parent.StudentID = core.CleanString(ni.Parent.StudentID)
		if err := validate.Struct(ni.Parent); err != nil {
			return err
		}
	}
	return nil
}

// Onboarding is the result of a successful (or replayed) finalization; the
// caller routes the onboarded user to the dashboard matching Role.
type Onboarding struct {
	Role     string `json:"role"`
	SchoolID string `json:"school_id"`
}

type QueryFilter struct {
	Email    string   `query:"email"`
	SchoolID string   `query:"school_id"`
	Statuses []string `query:"status"`
	Roles    []string `query:"role"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Email == "" && qf.SchoolID == "" && qf.Statuses == nil && qf.Roles == nil
}

func (qf *QueryFilter) Clean() {
	qf.Email = core.CleanString(qf.Email, true /* lower */)
	qf.SchoolID = core.CleanString(qf.SchoolID)
}

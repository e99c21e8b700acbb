package school

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/darasahq/darasa/core"
)

type School struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Class belongs to exactly one school and has at most one class teacher.
// ClassTeacherID is a weak reference to a User; it is resolved by the invite
// finalizer when an invited teacher completes onboarding.
type Class struct {
	ID             string    `json:"id"`
	SchoolID       string    `json:"school_id"`
	Name           string    `json:"name"`
	ClassTeacherID string    `json:"class_teacher_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// Student belongs to exactly one school and one class. ParentEmail is a weak
// reference resolved to ParentUID when the invited parent completes onboarding.
type Student struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	ClassID     string    `json:"class_id"`
	Name        string    `json:"name"`
	ParentEmail string    `json:"parent_email"`
	ParentUID   string    `json:"parent_uid,omitempty"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

type NewSchool struct {
	Name string `json:"name" validate:"required"`
}

func (ns *NewSchool) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	return validate.Struct(ns)
}

type NewClass struct {
	SchoolID string `json:"school_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.SchoolID = core.CleanString(nc.SchoolID)
	nc.Name = core.CleanString(nc.Name)
	return validate.Struct(nc)
}

type NewStudent struct {
	SchoolID    string `json:"school_id" validate:"required"`
	ClassID     string `json:"class_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	ParentEmail string `json:"parent_email" validate:"omitempty,email"`
}

func (ns *NewStudent) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	ns.SchoolID = core.CleanString(ns.SchoolID)
	ns.ClassID = core.CleanString(ns.ClassID)
	ns.Name = core.CleanString(ns.Name)
	ns.ParentEmail = core.CleanString(ns.ParentEmail, true /* lower */)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	// the class must exist and belong to the same school
	class, err := svc.GetClass(ctx, ns.ClassID)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "class_id", Error: err.Error()})
	}
	if class.SchoolID != ns.SchoolID {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "class belongs to another school"})
	}
	return nil
}

// UpdateClass defines what information may be provided to modify an existing Class.
// ClassTeacherUID re-assignment is admin-directed and last-writer-wins; a
// still-pending teacher invite for the previous assignee is not blocked by it.
type UpdateClass struct {
	Name           string  `json:"name"`
	ClassTeacherUID *string `json:"class_teacher_uid"`
}

type UpdateStudent struct {
	Name        string `json:"name"`
	ClassID     string `json:"class_id"`
	ParentEmail string `json:"parent_email" validate:"omitempty,email"`
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	us.Name = core.CleanString(us.Name)
	us.ClassID = core.CleanString(us.ClassID)
	us.ParentEmail = core.CleanString(us.ParentEmail, true /* lower */)
	return validate.Struct(us)
}

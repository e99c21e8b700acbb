package testutil

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/school"
	"github.com/darasahq/darasa/core/user"
)

// NewConfig returns a deterministic config for tests.
func NewConfig() *core.Config {
	return &core.Config{
		Debug:    true,
		TestMode: true,
		Env:      "TEST",
		Build:    "test",

		AppName:          "Darasa",
		SecretKey:        []byte("poq5-wer)$^&fdgdf@dfg1fc&nkl*iuyt"),
		FrontendBaseURL:  "http://localhost:8080",
		DefaultFromEmail: mail.Address{Name: "Darasa", Address: "noreply@darasa.test"},
		WorkDir:          core.Getwd(),

		InviteTTL:                 7 * 24 * time.Hour,
		JWTExpirationDelta:        10 * time.Minute,
		JWTRefreshExpirationDelta: 4 * time.Hour,

		Server: core.ServerConfig{ShutdownTimeout: 5 * time.Second},
	}
}

// Logger discards nothing; it forwards everything to the test log.
type Logger struct {
	T *testing.T
}

var _ core.Logger = (*Logger)(nil)

func (l Logger) Enable(bool)                           {}
func (l Logger) Debug(msg string, args ...interface{}) { l.log(msg, args) }
func (l Logger) Info(msg string, args ...interface{})  { l.log(msg, args) }
func (l Logger) Warn(msg string, args ...interface{})  { l.log(msg, args) }
func (l Logger) Error(msg string, args ...interface{}) { l.log(msg, args) }
func (l Logger) Fatal(msg string, args ...interface{}) { l.T.Fatal(msg) }

func (l Logger) log(msg string, args []interface{}) {
	if l.T != nil {
		l.T.Logf("%s %v", msg, args)
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role, schoolID string,
	isActive bool,
) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Email:     email,
		Role:      role,
		SchoolID:  schoolID,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateSchool(t *testing.T, repo school.Repository, name string) school.School {
	t.Helper()
	now := time.Now().UTC()
	sch, err := repo.CreateSchool(context.Background(), school.School{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateSchool() failed: %v", err)
	}
	return sch
}

func CreateClass(t *testing.T, repo school.Repository, schoolID, name string) school.Class {
	t.Helper()
	now := time.Now().UTC()
	class, err := repo.CreateClass(context.Background(), school.Class{
		SchoolID:  schoolID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return class
}

func CreateStudent(t *testing.T, repo school.Repository, schoolID, classID, name, parentEmail string) school.Student {
	t.Helper()
	now := time.Now().UTC()
	std, err := repo.CreateStudent(context.Background(), school.Student{
		SchoolID:    schoolID,
		ClassID:     classID,
		Name:        name,
		ParentEmail: parentEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return std
}

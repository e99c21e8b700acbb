package school

import (
	"context"
	"errors"
	"time"

	"github.com/darasahq/darasa/core"
)

var (
	// errors
	ErrSchoolNotFound  = errors.New("school not found")
	ErrClassNotFound   = errors.New("class not found")
	ErrStudentNotFound = errors.New("student not found")
)

type (
	Repository interface {
		CreateSchool(ctx context.Context, sch School, exec ...core.DBExecutor) (School, error)
		GetSchoolByID(ctx context.Context, id string, exec ...core.DBExecutor) (School, error)

		CreateClass(ctx context.Context, class Class, exec ...core.DBExecutor) (Class, error)
		GetClassByID(ctx context.Context, id string, exec ...core.DBExecutor) (Class, error)
		QueryClassesBySchool(ctx context.Context, schoolID string, exec ...core.DBExecutor) ([]Class, error)
		UpdateClass(ctx context.Context, class Class, teacherUID *string, exec ...core.DBExecutor) (Class, error)
		// SetClassTeacher points class's teacher reference at uid, last writer wins.
		SetClassTeacher(ctx context.Context, classID, uid string, exec ...core.DBExecutor) error
		DeleteClass(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateStudent(ctx context.Context, std Student, exec ...core.DBExecutor) (Student, error)
		GetStudentByID(ctx context.Context, id string, exec ...core.DBExecutor) (Student, error)
		QueryStudentsBySchool(ctx context.Context, schoolID string, exec ...core.DBExecutor) ([]Student, error)
		UpdateStudent(ctx context.Context, std Student, exec ...core.DBExecutor) (Student, error)
		// SetStudentParent resolves the student's weak parent reference to uid.
		SetStudentParent(ctx context.Context, studentID, uid string, exec ...core.DBExecutor) error
		DeleteStudent(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	Service interface {
		CreateSchool(ctx context.Context, ns NewSchool) (School, error)
		GetSchool(ctx context.Context, id string) (School, error)

		CreateClass(ctx context.Context, nc NewClass) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		QueryClasses(ctx context.Context, schoolID string) ([]Class, error)
		UpdateClass(ctx context.Context, id string, uc UpdateClass) (Class, error)
		DeleteClass(ctx context.Context, id string) error

		CreateStudent(ctx context.Context, ns NewStudent) (Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context, schoolID string) ([]Student, error)
		UpdateStudent(ctx context.Context, id string, us UpdateStudent) (Student, error)
		DeleteStudent(ctx context.Context, id string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CreateSchool(ctx context.Context, ns NewSchool) (School, error) {
	now := time.Now().UTC()
	return svc.repo.CreateSchool(ctx, School{
		Name:      ns.Name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *service) GetSchool(ctx context.Context, id string) (School, error) {
	return svc.repo.GetSchoolByID(ctx, id)
}

func (svc *service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	if _, err := svc.repo.GetSchoolByID(ctx, nc.SchoolID); err != nil {
		return Class{}, err
	}
	now := time.Now().UTC()
	return svc.repo.CreateClass(ctx, Class{
		SchoolID:  nc.SchoolID,
		Name:      nc.Name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *service) QueryClasses(ctx context.Context, schoolID string) ([]Class, error) {
	return svc.repo.QueryClassesBySchool(ctx, schoolID)
}

func (svc *service) UpdateClass(ctx context.Context, id string, uc UpdateClass) (Class, error) {
	return svc.repo.UpdateClass(ctx, Class{
		ID:        id,
		Name:      uc.Name,
		UpdatedAt: time.Now().UTC(),
	}, uc.ClassTeacherUID)
}

func (svc *service) DeleteClass(ctx context.Context, id string) error {
	return svc.repo.DeleteClass(ctx, id)
}

func (svc *service) CreateStudent(ctx context.Context, ns NewStudent) (Student, error) {
	now := time.Now().UTC()
	return svc.repo.CreateStudent(ctx, Student{
		SchoolID:    ns.SchoolID,
		ClassID:     ns.ClassID,
		Name:        ns.Name,
		ParentEmail: ns.ParentEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *service) GetStudent(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudentByID(ctx, id)
}

func (svc *service) QueryStudents(ctx context.Context, schoolID string) ([]Student, error) {
	return svc.repo.QueryStudentsBySchool(ctx, schoolID)
}

func (svc *service) UpdateStudent(ctx context.Context, id string, us UpdateStudent) (Student, error) {
	return svc.repo.UpdateStudent(ctx, Student{
		ID:          id,
		Name:        us.Name,
		ClassID:     us.ClassID,
		ParentEmail: us.ParentEmail,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (svc *service) DeleteStudent(ctx context.Context, id string) error {
	return svc.repo.DeleteStudent(ctx, id)
}

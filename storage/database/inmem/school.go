package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/school"
)

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil)

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db}
}

func (repo *schoolRepository) CreateSchool(ctx context.Context, sch school.School, exec ...core.DBExecutor) (school.School, error) {
	defer repo.db.lock(exec)()

	sch.ID = uuid.New().String()
	repo.db.data.schools[sch.ID] = sch
	return sch, nil
}

func (repo *schoolRepository) GetSchoolByID(ctx context.Context, id string, exec ...core.DBExecutor) (school.School, error) {
	defer repo.db.lock(exec)()

	if sch, ok := repo.db.data.schools[id]; ok {
		return sch, nil
	}
	return school.School{}, school.ErrSchoolNotFound
}

func (repo *schoolRepository) CreateClass(ctx context.Context, class school.Class, exec ...core.DBExecutor) (school.Class, error) {
	defer repo.db.lock(exec)()

	class.ID = uuid.New().String()
	repo.db.data.classes[class.ID] = class
	return class, nil
}

func (repo *schoolRepository) GetClassByID(ctx context.Context, id string, exec ...core.DBExecutor) (school.Class, error) {
	defer repo.db.lock(exec)()

	if class, ok := repo.db.data.classes[id]; ok {
		return class, nil
	}
	return school.Class{}, school.ErrClassNotFound
}

func (repo *schoolRepository) QueryClassesBySchool(ctx context.Context, schoolID string, exec ...core.DBExecutor) ([]school.Class, error) {
	defer repo.db.lock(exec)()

	classes := make([]school.Class, 0)
	for _, class := range repo.db.data.classes {
		if class.SchoolID == schoolID {
			classes = append(classes, class)
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func (repo *schoolRepository) UpdateClass(ctx context.Context, class school.Class, teacherUID *string, exec ...core.DBExecutor) (school.Class, error) {
	defer repo.db.lock(exec)()

	origClass, ok := repo.db.data.classes[class.ID]
	if !ok {
		return school.Class{}, school.ErrClassNotFound
	}
	if class.Name != "" {
		origClass.Name = class.Name
	}
	if teacherUID != nil {
		origClass.ClassTeacherID = *teacherUID
	}
	origClass.UpdatedAt = class.UpdatedAt

	repo.db.data.classes[class.ID] = origClass
	return origClass, nil
}

func (repo *schoolRepository) SetClassTeacher(ctx context.Context, classID, uid string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	class, ok := repo.db.data.classes[classID]
	if !ok {
		return school.ErrClassNotFound
	}
	class.ClassTeacherID = uid
	repo.db.data.classes[classID] = class
	return nil
}

func (repo *schoolRepository) DeleteClass(ctx context.Context, id string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	delete(repo.db.data.classes, id)
	return nil
}

func (repo *schoolRepository) CreateStudent(ctx context.Context, std school.Student, exec ...core.DBExecutor) (school.Student, error) {
	defer repo.db.lock(exec)()

	std.ID = uuid.New().String()
	repo.db.data.students[std.ID] = std
	return std, nil
}

func (repo *schoolRepository) GetStudentByID(ctx context.Context, id string, exec ...core.DBExecutor) (school.Student, error) {
	defer repo.db.lock(exec)()

	if std, ok := repo.db.data.students[id]; ok {
		return std, nil
	}
	return school.Student{}, school.ErrStudentNotFound
}

func (repo *schoolRepository) QueryStudentsBySchool(ctx context.Context, schoolID string, exec ...core.DBExecutor) ([]school.Student, error) {
	defer repo.db.lock(exec)()

	students := make([]school.Student, 0)
	for _, std := range repo.db.data.students {
		if std.SchoolID == schoolID {
			students = append(students, std)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students, nil
}

func (repo *schoolRepository) UpdateStudent(ctx context.Context, std school.Student, exec ...core.DBExecutor) (school.Student, error) {
	defer repo.db.lock(exec)()

	origStd, ok := repo.db.data.students[std.ID]
	if !ok {
		return school.Student{}, school.ErrStudentNotFound
	}
	if std.Name != "" {
		origStd.Name = std.Name
	}
	if std.ClassID != "" {
		origStd.ClassID = std.ClassID
	}
	if std.ParentEmail != "" {
		origStd.ParentEmail = std.ParentEmail
	}
	origStd.UpdatedAt = std.UpdatedAt

	repo.db.data.students[std.ID] = origStd
	return origStd, nil
}

func (repo *schoolRepository) SetStudentParent(ctx context.Context, studentID, uid string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	std, ok := repo.db.data.students[studentID]
	if !ok {
		return school.ErrStudentNotFound
	}
	std.ParentUID = uid
	repo.db.data.students[studentID] = std
	return nil
}

func (repo *schoolRepository) DeleteStudent(ctx context.Context, id string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	delete(repo.db.data.students, id)
	return nil
}

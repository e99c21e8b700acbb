package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/school"
)

type schoolRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r schoolRow) toSchool() school.School {
	return school.School{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type classRow struct {
	ID             string      `db:"id"`
	SchoolID       string      `db:"school_id"`
	Name           string      `db:"name"`
	ClassTeacherID null.String `db:"class_teacher_id"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

func (r classRow) toClass() school.Class {
	return school.Class{
		ID:             r.ID,
		SchoolID:       r.SchoolID,
		Name:           r.Name,
		ClassTeacherID: r.ClassTeacherID.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type studentRow struct {
	ID          string      `db:"id"`
	SchoolID    string      `db:"school_id"`
	ClassID     string      `db:"class_id"`
	Name        string      `db:"name"`
	ParentEmail string      `db:"parent_email"`
	ParentUID   null.String `db:"parent_uid"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r studentRow) toStudent() school.Student {
	return school.Student{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		ClassID:     r.ClassID,
		Name:        r.Name,
		ParentEmail: r.ParentEmail,
		ParentUID:   r.ParentUID.String,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil)

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db}
}

// --- schools ---

func (repo *schoolRepository) CreateSchool(ctx context.Context, sch school.School, exec ...core.DBExecutor) (school.School, error) {
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	const q = `INSERT INTO schools (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`
	_, err := ext(repo.db, exec).ExecContext(ctx, q, sch.ID, sch.Name, sch.CreatedAt.UTC(), sch.UpdatedAt.UTC())
	if err != nil {
		return school.School{}, errors.Wrap(err, "inserting school")
	}
	return sch, nil
}

func (repo *schoolRepository) GetSchoolByID(ctx context.Context, id string, exec ...core.DBExecutor) (school.School, error) {
	if _, err := uuid.Parse(id); err != nil {
		return school.School{}, school.ErrSchoolNotFound
	}
	var r schoolRow
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &r, `SELECT * FROM schools WHERE id = $1`, id); err != nil {
		return school.School{}, repo.trapNoRowsErr(err, school.ErrSchoolNotFound, "finding school")
	}
	return r.toSchool(), nil
}

// --- classes ---

func (repo *schoolRepository) CreateClass(ctx context.Context, class school.Class, exec ...core.DBExecutor) (school.Class, error) {
	if class.ID == "" {
		class.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO classes (id, school_id, name, class_teacher_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := ext(repo.db, exec).ExecContext(ctx, q,
		class.ID, class.SchoolID, class.Name,
		null.NewString(class.ClassTeacherID, class.ClassTeacherID != ""),
		class.CreatedAt.UTC(), class.UpdatedAt.UTC(),
	)
	if err != nil {
		return school.Class{}, errors.Wrap(err, "inserting class")
	}
	return class, nil
}

func (repo *schoolRepository) GetClassByID(ctx context.Context, id string, exec ...core.DBExecutor) (school.Class, error) {
	if _, err := uuid.Parse(id); err != nil {
		return school.Class{}, school.ErrClassNotFound
	}
	var r classRow
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &r, `SELECT * FROM classes WHERE id = $1`, id); err != nil {
		return school.Class{}, repo.trapNoRowsErr(err, school.ErrClassNotFound, "finding class")
	}
	return r.toClass(), nil
}

func (repo *schoolRepository) QueryClassesBySchool(ctx context.Context, schoolID string, exec ...core.DBExecutor) ([]school.Class, error) {
	var rows []classRow
	q := `SELECT * FROM classes WHERE school_id = $1 ORDER BY name`
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, q, schoolID); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]school.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.toClass())
	}
	return classes, nil
}

func (repo *schoolRepository) UpdateClass(ctx context.Context, class school.Class, teacherUID *string, exec ...core.DBExecutor) (school.Class, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if class.Name != "" {
		set("name", class.Name)
	}
	if teacherUID != nil {
		set("class_teacher_id", null.NewString(*teacherUID, *teacherUID != ""))
	}
	set("updated_at", class.UpdatedAt.UTC())

	args = append(args, class.ID)
	q := fmt.Sprintf(`UPDATE classes SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	if err := repo.execAffectingOne(ctx, school.ErrClassNotFound, "updating class", exec, q, args...); err != nil {
		return school.Class{}, err
	}
	return repo.GetClassByID(ctx, class.ID, exec...)
}

func (repo *schoolRepository) SetClassTeacher(ctx context.Context, classID, uid string, exec ...core.DBExecutor) error {
	const q = `UPDATE classes SET class_teacher_id = $2, updated_at = $3 WHERE id = $1`
	return repo.execAffectingOne(ctx, school.ErrClassNotFound, "setting class teacher", exec, q, classID, uid, time.Now().UTC())
}

func (repo *schoolRepository) DeleteClass(ctx context.Context, id string, exec ...core.DBExecutor) error {
	_, err := ext(repo.db, exec).ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	return errors.Wrap(err, "deleting class")
}

// --- students ---

func (repo *schoolRepository) CreateStudent(ctx context.Context, std school.Student, exec ...core.DBExecutor) (school.Student, error) {
	if std.ID == "" {
		std.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO students (id, school_id, class_id, name, parent_email, parent_uid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := ext(repo.db, exec).ExecContext(ctx, q,
		std.ID, std.SchoolID, std.ClassID, std.Name, std.ParentEmail,
		null.NewString(std.ParentUID, std.ParentUID != ""),
		std.CreatedAt.UTC(), std.UpdatedAt.UTC(),
	)
	if err != nil {
		return school.Student{}, errors.Wrap(err, "inserting student")
	}
	return std, nil
}

func (repo *schoolRepository) GetStudentByID(ctx context.Context, id string, exec ...core.DBExecutor) (school.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return school.Student{}, school.ErrStudentNotFound
	}
	var r studentRow
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &r, `SELECT * FROM students WHERE id = $1`, id); err != nil {
		return school.Student{}, repo.trapNoRowsErr(err, school.ErrStudentNotFound, "finding student")
	}
	return r.toStudent(), nil
}

func (repo *schoolRepository) QueryStudentsBySchool(ctx context.Context, schoolID string, exec ...core.DBExecutor) ([]school.Student, error) {
	var rows []studentRow
	q := `SELECT * FROM students WHERE school_id = $1 ORDER BY name`
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, q, schoolID); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]school.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.toStudent())
	}
	return students, nil
}

func (repo *schoolRepository) UpdateStudent(ctx context.Context, std school.Student, exec ...core.DBExecutor) (school.Student, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if std.Name != "" {
		set("name", std.Name)
	}
	if std.ClassID != "" {
		set("class_id", std.ClassID)
	}
	if std.ParentEmail != "" {
		set("parent_email", std.ParentEmail)
	}
	set("updated_at", std.UpdatedAt.UTC())

	args = append(args, std.ID)
	q := fmt.Sprintf(`UPDATE students SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	if err := repo.execAffectingOne(ctx, school.ErrStudentNotFound, "updating student", exec, q, args...); err != nil {
		return school.Student{}, err
	}
	return repo.GetStudentByID(ctx, std.ID, exec...)
}

func (repo *schoolRepository) SetStudentParent(ctx context.Context, studentID, uid string, exec ...core.DBExecutor) error {
	const q = `UPDATE students SET parent_uid = $2, updated_at = $3 WHERE id = $1`
	return repo.execAffectingOne(ctx, school.ErrStudentNotFound, "setting student parent", exec, q, studentID, uid, time.Now().UTC())
}

func (repo *schoolRepository) DeleteStudent(ctx context.Context, id string, exec ...core.DBExecutor) error {
	_, err := ext(repo.db, exec).ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	return errors.Wrap(err, "deleting student")
}

// --- helpers ---

func (repo *schoolRepository) execAffectingOne(
	ctx context.Context, notFound error, msg string, exec []core.DBExecutor, q string, args ...interface{},
) error {
	res, err := ext(repo.db, exec).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (repo *schoolRepository) trapNoRowsErr(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

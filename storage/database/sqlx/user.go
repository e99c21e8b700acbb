package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

type userRow struct {
	UID              string         `db:"uid"`
	Name             string         `db:"name"`
	Email            string         `db:"email"`
	Role             null.String    `db:"role"`
	SchoolID         null.String    `db:"school_id"`
	IsActive         bool           `db:"is_active"`
	AssignedClassIDs pq.StringArray `db:"assigned_class_ids"`
	LinkedStudentIDs pq.StringArray `db:"linked_student_ids"`
	PasswordHash     null.Bytes     `db:"password_hash"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	LastLogin        null.Time      `db:"last_login"`
}

func (r userRow) toUser() user.User {
	return user.User{
		UID:              r.UID,
		Name:             r.Name,
		Email:            r.Email,
		Role:             r.Role.String,
		SchoolID:         r.SchoolID.String,
		IsActive:         r.IsActive,
		AssignedClassIDs: r.AssignedClassIDs,
		LinkedStudentIDs: r.LinkedStudentIDs,
		PasswordHash:     r.PasswordHash.Bytes,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		LastLogin:        r.LastLogin.Time.UTC(),
	}
}

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	args := []interface{}{email}
	q := `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1`
	if len(excludedUsers) > 0 {
		uids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			uids = append(uids, u.UID)
		}
		q += ` AND uid <> ALL($2)`
		args = append(args, pq.StringArray(uids))
	}
	q += `)`

	var exists bool
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &exists, q, args...); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.UID == "" {
		usr.UID = uuid.New().String()
	}

	const q = `
		INSERT INTO users (
			uid, name, email, role, school_id, is_active, assigned_class_ids,
			linked_student_ids, password_hash, created_at, updated_at, last_login
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := ext(repo.db, exec).ExecContext(ctx, q,
		usr.UID, usr.Name, usr.Email,
		null.NewString(usr.Role, usr.Role != ""),
		null.NewString(usr.SchoolID, usr.SchoolID != ""),
		usr.IsActive,
		pq.StringArray(usr.AssignedClassIDs),
		pq.StringArray(usr.LinkedStudentIDs),
		null.BytesFrom(usr.PasswordHash),
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(),
		null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var (
		q   string
		arg string
	)
	if filter.UID != "" {
		if _, err := uuid.Parse(filter.UID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		q, arg = `SELECT * FROM users WHERE uid = $1`, filter.UID
	} else {
		q, arg = `SELECT * FROM users WHERE email = $1`, filter.Email
	}

	var r userRow
	if err := sqlx.GetContext(ctx, ext(repo.db, exec), &r, q, arg); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return r.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		// users with Name or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			conds = append(conds, fmt.Sprintf("(name ILIKE %s OR email ILIKE %s)", arg(val), arg(val)))
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, "role = ANY("+arg(pq.StringArray(filter.Roles))+")")
		}
		if filter.SchoolID != "" {
			conds = append(conds, "school_id = "+arg(filter.SchoolID))
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = "+arg(*filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
		}
	}

	q := `SELECT * FROM users`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		q += " ORDER BY " + strings.Join(orderList, ", ")
	}

	var rows []userRow
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool, exec ...core.DBExecutor) (user.User, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	// only save set fields
	if usr.Name != "" {
		set("name", usr.Name)
	}
	if usr.Role != "" {
		set("role", usr.Role)
	}
	if usr.SchoolID != "" {
		set("school_id", usr.SchoolID)
	}
	if usr.AssignedClassIDs != nil {
		set("assigned_class_ids", pq.StringArray(usr.AssignedClassIDs))
	}
	if usr.LinkedStudentIDs != nil {
		set("linked_student_ids", pq.StringArray(usr.LinkedStudentIDs))
	}
	if usr.PasswordHash != nil {
		set("password_hash", usr.PasswordHash)
	}
	if isActive != nil {
		set("is_active", *isActive)
	}
	if !usr.LastLogin.IsZero() {
		set("last_login", usr.LastLogin.UTC())
	}
	set("updated_at", usr.UpdatedAt.UTC())

	args = append(args, usr.UID)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE uid = $%d`, strings.Join(sets, ", "), len(args))

	res, err := ext(repo.db, exec).ExecContext(ctx, q, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{UID: usr.UID}, exec...)
}

func (repo *userRepository) DeleteUsersByUID(ctx context.Context, uids []string, exec ...core.DBExecutor) error {
	_, err := ext(repo.db, exec).ExecContext(ctx, `DELETE FROM users WHERE uid = ANY($1)`, pq.StringArray(uids))
	return errors.Wrap(err, "deleting users")
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo *userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

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
	"github.com/darasahq/darasa/core/invite"
	"github.com/darasahq/darasa/core/user"
)

type inviteRow struct {
	ID               string         `db:"id"`
	Email            string         `db:"email"`
	Role             string         `db:"role"`
	SchoolID         string         `db:"school_id"`
	TeacherName      null.String    `db:"teacher_name"`
	Subjects         pq.StringArray `db:"subjects"`
	AssignedClassIDs pq.StringArray `db:"assigned_class_ids"`
	StudentID        null.String    `db:"student_id"`
	Status           string         `db:"status"`
	ConsumedUID      null.String    `db:"consumed_uid"`
	CreatedBy        string         `db:"created_by"`
	CreatedAt        time.Time      `db:"created_at"`
	ExpiresAt        time.Time      `db:"expires_at"`
}

func (r inviteRow) toInvite() invite.Invite {
	inv := invite.Invite{
		ID:          r.ID,
		Email:       r.Email,
		Role:        r.Role,
		SchoolID:    r.SchoolID,
		Status:      r.Status,
		ConsumedUID: r.ConsumedUID.String,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
	switch r.Role {
	case user.RoleTeacher:
		inv.Teacher = &invite.TeacherPayload{
			Name:             r.TeacherName.String,
			Subjects:         r.Subjects,
			AssignedClassIDs: r.AssignedClassIDs,
		}
	case user.RoleParent:
		inv.Parent = &invite.ParentPayload{StudentID: r.StudentID.String}
	}
	return inv
}

func rowFromInvite(inv invite.Invite) inviteRow {
	r := inviteRow{
		ID:          inv.ID,
		Email:       inv.Email,
		Role:        inv.Role,
		SchoolID:    inv.SchoolID,
		Status:      inv.Status,
		ConsumedUID: null.NewString(inv.ConsumedUID, inv.ConsumedUID != ""),
		CreatedBy:   inv.CreatedBy,
		CreatedAt:   inv.CreatedAt.UTC(),
		ExpiresAt:   inv.ExpiresAt.UTC(),
	}
	if inv.Teacher != nil {
		r.TeacherName = null.StringFrom(inv.Teacher.Name)
		r.Subjects = inv.Teacher.Subjects
		r.AssignedClassIDs = inv.Teacher.AssignedClassIDs
	}
	if inv.Parent != nil {
		r.StudentID = null.StringFrom(inv.Parent.StudentID)
	}
	return r
}

type inviteRepository struct {
	db *DB
}

var _ invite.Repository = (*inviteRepository)(nil)

func NewInviteRepository(db *DB) invite.Repository {
	return &inviteRepository{db: db}
}

func (repo *inviteRepository) CreateInvite(ctx context.Context, inv invite.Invite, exec ...core.DBExecutor) (invite.Invite, error) {
	inv.ID = uuid.New().String()
	r := rowFromInvite(inv)

	const q = `
		INSERT INTO invites (
			id, email, role, school_id, teacher_name, subjects, assigned_class_ids,
			student_id, status, consumed_uid, created_by, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := ext(repo.db, exec).ExecContext(ctx, q,
		r.ID, r.Email, r.Role, r.SchoolID, r.TeacherName, r.Subjects, r.AssignedClassIDs,
		r.StudentID, r.Status, r.ConsumedUID, r.CreatedBy, r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		return invite.Invite{}, errors.Wrap(err, "inserting invite")
	}
	return inv, nil
}

func (repo *inviteRepository) GetInviteByID(ctx context.Context, id string, exec ...core.DBExecutor) (invite.Invite, error) {
	if _, err := uuid.Parse(id); err != nil {
		return invite.Invite{}, invite.ErrInviteNotFound
	}

	var r inviteRow
	err := sqlx.GetContext(ctx, ext(repo.db, exec), &r, `SELECT * FROM invites WHERE id = $1`, id)
	if err != nil {
		return invite.Invite{}, repo.trapNoRowsErr(err, "finding invite by ID")
	}
	return r.toInvite(), nil
}

func (repo *inviteRepository) GetPendingInvite(ctx context.Context, email, schoolID string, exec ...core.DBExecutor) (invite.Invite, error) {
	var r inviteRow
	err := sqlx.GetContext(ctx, ext(repo.db, exec), &r,
		`SELECT * FROM invites WHERE email = $1 AND school_id = $2 AND status = $3`,
		email, schoolID, invite.StatusPending,
	)
	if err != nil {
		return invite.Invite{}, repo.trapNoRowsErr(err, "finding pending invite")
	}
	return r.toInvite(), nil
}

func (repo *inviteRepository) QueryInvites(ctx context.Context, filter *invite.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]invite.Invite, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Email != "" {
			conds = append(conds, "email = "+arg(filter.Email))
		}
		if filter.SchoolID != "" {
			conds = append(conds, "school_id = "+arg(filter.SchoolID))
		}
		if len(filter.Statuses) > 0 {
			conds = append(conds, "status = ANY("+arg(pq.StringArray(filter.Statuses))+")")
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, "role = ANY("+arg(pq.StringArray(filter.Roles))+")")
		}
	}

	q := `SELECT * FROM invites`
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

	var rows []inviteRow
	if err := sqlx.SelectContext(ctx, ext(repo.db, exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying invites")
	}
	invites := make([]invite.Invite, 0, len(rows))
	for _, r := range rows {
		invites = append(invites, r.toInvite())
	}
	return invites, nil
}

func (repo *inviteRepository) UpdateInviteStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) error {
	res, err := ext(repo.db, exec).ExecContext(ctx, `UPDATE invites SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return errors.Wrap(err, "updating invite status")
	}
	return repo.trapNoRowsAffected(res)
}

// ConsumeInvite does a conditional update so a data-layer write conflict
// becomes a definitive "someone else already consumed this" signal.
func (repo *inviteRepository) ConsumeInvite(ctx context.Context, id, uid string, exec ...core.DBExecutor) error {
	res, err := ext(repo.db, exec).ExecContext(ctx,
		`UPDATE invites SET status = $2, consumed_uid = $3 WHERE id = $1 AND status = $4`,
		id, invite.StatusConsumed, uid, invite.StatusPending,
	)
	if err != nil {
		return errors.Wrap(err, "consuming invite")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "consuming invite")
	}
	if n == 0 {
		return invite.ErrInviteConsumed
	}
	return nil
}

func (repo *inviteRepository) SetConsumedUID(ctx context.Context, id, uid string, exec ...core.DBExecutor) error {
	res, err := ext(repo.db, exec).ExecContext(ctx,
		`UPDATE invites SET consumed_uid = $2 WHERE id = $1 AND status = $3`,
		id, uid, invite.StatusConsumed,
	)
	if err != nil {
		return errors.Wrap(err, "updating consumed uid")
	}
	return repo.trapNoRowsAffected(res)
}

// trapNoRowsErr maps psql "no rows" err to invite.ErrInviteNotFound
func (repo *inviteRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return invite.ErrInviteNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *inviteRepository) trapNoRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking affected rows")
	}
	if n == 0 {
		return invite.ErrInviteNotFound
	}
	return nil
}

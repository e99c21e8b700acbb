package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/invite"
)

type inviteRepository struct {
	db *DB
}

var _ invite.Repository = (*inviteRepository)(nil)

func NewInviteRepository(db *DB) invite.Repository {
	return &inviteRepository{db: db}
}

func (repo *inviteRepository) CreateInvite(ctx context.Context, inv invite.Invite, exec ...core.DBExecutor) (invite.Invite, error) {
	defer repo.db.lock(exec)()

	inv.ID = uuid.New().String()
	repo.db.data.invites[inv.ID] = inv
	return inv, nil
}

func (repo *inviteRepository) GetInviteByID(ctx context.Context, id string, exec ...core.DBExecutor) (invite.Invite, error) {
	defer repo.db.lock(exec)()

	if inv, ok := repo.db.data.invites[id]; ok {
		return inv, nil
	}
	return invite.Invite{}, invite.ErrInviteNotFound
}

func (repo *inviteRepository) GetPendingInvite(ctx context.Context, email, schoolID string, exec ...core.DBExecutor) (invite.Invite, error) {
	defer repo.db.lock(exec)()

	for _, inv := range repo.db.data.invites {
		if inv.Email == email && inv.SchoolID == schoolID && inv.Status == invite.StatusPending {
			return inv, nil
		}
	}
	return invite.Invite{}, invite.ErrInviteNotFound
}

func (repo *inviteRepository) QueryInvites(ctx context.Context, filter *invite.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]invite.Invite, error) {
	defer repo.db.lock(exec)()

	invites := make([]invite.Invite, 0, len(repo.db.data.invites))
	for _, inv := range repo.db.data.invites {
		if filter != nil && !matchInvite(inv, filter) {
			continue
		}
		invites = append(invites, inv)
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.Before(invites[j].CreatedAt) })
	return invites, nil
}

func (repo *inviteRepository) UpdateInviteStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	inv, ok := repo.db.data.invites[id]
	if !ok {
		return invite.ErrInviteNotFound
	}
	inv.Status = status
	repo.db.data.invites[id] = inv
	return nil
}

func (repo *inviteRepository) ConsumeInvite(ctx context.Context, id, uid string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	inv, ok := repo.db.data.invites[id]
	if !ok {
		return invite.ErrInviteNotFound
	}
	// compare-and-set on status: a non-pending invite means someone else got here first
	if inv.Status != invite.StatusPending {
		return invite.ErrInviteConsumed
	}
	inv.Status = invite.StatusConsumed
	inv.ConsumedUID = uid
	repo.db.data.invites[id] = inv
	return nil
}

func (repo *inviteRepository) SetConsumedUID(ctx context.Context, id, uid string, exec ...core.DBExecutor) error {
	defer repo.db.lock(exec)()

	inv, ok := repo.db.data.invites[id]
	if !ok || inv.Status != invite.StatusConsumed {
		return invite.ErrInviteNotFound
	}
	inv.ConsumedUID = uid
	repo.db.data.invites[id] = inv
	return nil
}

func matchInvite(inv invite.Invite, filter *invite.QueryFilter) bool {
	if filter.Email != "" && inv.Email != filter.Email {
		return false
	}
	if filter.SchoolID != "" && inv.SchoolID != filter.SchoolID {
		return false
	}
	if filter.Statuses != nil && !containsString(filter.Statuses, inv.Status) {
		return false
	}
	if filter.Roles != nil && !containsString(filter.Roles, inv.Role) {
		return false
	}
	return true
}

func containsString(vals []string, val string) bool {
	for _, v := range vals {
		if v == val {
			return true
		}
	}
	return false
}

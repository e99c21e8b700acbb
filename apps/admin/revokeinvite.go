package main

import (
	"context"

	"github.com/darasahq/darasa/core/invite"
)

func (cli *commandLine) revokeInvite(id string) error {
	ctx := context.Background()
	inv, err := cli.invRepo.GetInviteByID(ctx, id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case invite.StatusPending:
		return cli.invRepo.UpdateInviteStatus(ctx, inv.ID, invite.StatusRevoked)
	case invite.StatusExpired, invite.StatusRevoked:
		return nil // already dead
	default:
		return invite.ErrInviteConsumed
	}
}

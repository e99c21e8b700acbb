package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/darasahq/darasa/core/invite"
	"github.com/darasahq/darasa/core/user"
	inmemdb "github.com/darasahq/darasa/storage/database/inmem"
	testutil "github.com/darasahq/darasa/tests"
)

var (
	usrRepo user.Repository
	invRepo invite.Repository
)

func setup(t *testing.T) *commandLine {
	t.Helper()

	db := inmemdb.New()
	usrRepo = inmemdb.NewUserRepository(db)
	invRepo = inmemdb.NewInviteRepository(db)

	return &commandLine{
		usrRepo: usrRepo,
		invRepo: invRepo,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "invites", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_addAdmin(t *testing.T) {
	cli := setup(t)

	existing := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "", user.RoleAdmin, "sch-001", true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"addadmin"}, wantErr: errHelp},
		{name: "missing school", args: []string{"addadmin", "-name", "Boss", "-email", "boss@test.cd"}, wantErr: errHelp},
		{name: "flags but no password", args: []string{"addadmin", "-name", "Boss", "-email", "boss@test.cd", "-school", "sch-001"}, wantErr: errHelp},
		{
			name: "email taken", args: []string{"addadmin", "-name", "Boss", "-email", existing.Email, "-school", "sch-001"},
			extra: extra{pwd: "lol"}, wantErr: user.ErrEmailExists,
		},
		{
			name: "add admin", args: []string{"addadmin", "-name", "Boss", "-email", "boss@test.cd", "-school", "sch-001"},
			extra: extra{pwd: "lol"},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{Email: "boss@test.cd"})
				if err != nil {
					t.Fatalf("GetUser() failed: %v", err)
				}
				if !usr.IsAdmin() || !usr.IsActive || usr.SchoolID != "sch-001" {
					t.Errorf("unexpected admin %+v", usr)
				}
				if err = usr.CheckPassword(tt.extra.(extra).pwd); err != nil {
					t.Errorf("CheckPassword() failed: %v", err)
				}
			} else if tt.wantErr == nil || err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "mdr", user.RoleAdmin, "sch-001", true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", usr.Email}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@test.cd"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshed, err := usrRepo.GetUser(context.Background(), user.GetFilter{UID: usr.UID})
				if err != nil {
					t.Fatalf("GetUser() failed: %v", err)
				}
				if err = refreshed.CheckPassword(tt.extra.(extra).pwd); err != nil {
					t.Errorf("CheckPassword() failed: %v", err)
				}
			} else if tt.wantErr == nil || err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_revokeInvite(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()
	newInvite := func(status string) invite.Invite {
		inv, err := invRepo.CreateInvite(ctx, invite.Invite{
			Email:     "t@test.cd",
			Role:      user.RoleTeacher,
			SchoolID:  "sch-001",
			Teacher:   &invite.TeacherPayload{Name: "T"},
			Status:    status,
			CreatedAt: now,
			ExpiresAt: now.Add(7 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateInvite() failed: %v", err)
		}
		return inv
	}
	pending := newInvite(invite.StatusPending)
	revoked := newInvite(invite.StatusRevoked)
	consumed := newInvite(invite.StatusConsumed)

	tests := []cliTest{
		{name: "no args", args: []string{"revokeinvite"}, wantErr: errHelp},
		{name: "invite not found", args: []string{"revokeinvite", "-id", "lol"}, wantErr: invite.ErrInviteNotFound},
		{name: "revoke pending", args: []string{"revokeinvite", "-id", pending.ID}},
		{name: "already dead is a no-op", args: []string{"revokeinvite", "-id", revoked.ID}},
		{name: "consumed cannot be revoked", args: []string{"revokeinvite", "-id", consumed.ID}, wantErr: invite.ErrInviteConsumed},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				if tt.wantErr != nil {
					t.Fatalf("cli.run() expected error %v", tt.wantErr)
				}
			} else if tt.wantErr == nil || err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	inv, err := invRepo.GetInviteByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetInviteByID() failed: %v", err)
	}
	if inv.Status != invite.StatusRevoked {
		t.Errorf("Status = %s, want %s", inv.Status, invite.StatusRevoked)
	}
}

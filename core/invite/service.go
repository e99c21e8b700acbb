package invite

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/school"
	"github.com/darasahq/darasa/core/user"
)

var (
	// issuance-time errors
	ErrDuplicateIdentity   = errors.New("this email is already bound to an account")
	ErrEmailDispatchFailed = errors.New("invite was created but the sign-in email could not be sent")

	// finalize-time errors
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteExpired  = errors.New("invite has expired or been revoked")
	ErrEmailMismatch  = errors.New("email does not match this invite")
	// ErrAtomicWriteFailed means none of the finalize writes were applied;
	// re-calling Finalize with the same inputs is safe.
	ErrAtomicWriteFailed = errors.New("onboarding could not be applied")

	// ErrInviteConsumed is the repositories' compare-and-set conflict signal:
	// the invite was no longer pending when consumption was attempted. The
	// service turns it into the idempotent replay path, never a user error.
	ErrInviteConsumed = errors.New("invite already consumed")
)

type (
	Repository interface {
		CreateInvite(ctx context.Context, inv Invite, exec ...core.DBExecutor) (Invite, error)
		GetInviteByID(ctx context.Context, id string, exec ...core.DBExecutor) (Invite, error)
		// GetPendingInvite returns the at-most-one pending invite for (email, schoolID).
		GetPendingInvite(ctx context.Context, email, schoolID string, exec ...core.DBExecutor) (Invite, error)
		QueryInvites(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Invite, error)
		// UpdateInviteStatus sets status unconditionally (supersede, revoke, lazy expiry).
		UpdateInviteStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) error
		// ConsumeInvite transitions id from pending to consumed recording uid,
		// iff the invite is still pending; otherwise it errs with ErrInviteConsumed.
		ConsumeInvite(ctx context.Context, id, uid string, exec ...core.DBExecutor) error
		// SetConsumedUID re-points an already-consumed invite's snapshot at uid.
		SetConsumedUID(ctx context.Context, id, uid string, exec ...core.DBExecutor) error
	}

	Service interface {
		// Issue validates, persists and dispatches a new invite. On
		// ErrEmailDispatchFailed the returned invite is valid and persisted;
		// remediation is an explicit Resend, never a new invite.
		Issue(ctx context.Context, ni NewInvite, actor user.User) (Invite, error)
		// Resend re-dispatches the sign-in link for the same invite id, so a
		// single pending grant never has two live invites.
		Resend(ctx context.Context, id string, actor user.User) (Invite, error)
		Revoke(ctx context.Context, id string, actor user.User) error
		GetByID(ctx context.Context, id string) (Invite, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Invite, error)

		// VerifyLinkToken authenticates a completion link's token against the
		// invite it references and returns the invite's (verified) email. The
		// deadline is enforced for pending invites only; a consumed invite's
		// link stays valid so replays reach Finalize's idempotent path.
		VerifyLinkToken(ctx context.Context, inviteID, token string) (string, error)
		// Finalize converts a verified link completion into durable identity
		// and domain state, exactly once. Replays return the original result.
		Finalize(ctx context.Context, inviteID, verifiedEmail, principalUID string) (Onboarding, error)
	}

	service struct {
		db      core.DB
		repo    Repository
		usrRepo user.Repository
		schRepo school.Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(
	db core.DB,
	repo Repository,
	usrRepo user.Repository,
	schRepo school.Repository,
	mailSvc core.EmailService,
	conf *core.Config,
) Service {
	return &service{
		db:      db,
		repo:    repo,
		usrRepo: usrRepo,
		schRepo: schRepo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

// authorize enforces who may manage invites: the actor must belong to the
// target school; teacher invites are admin-only, parent invites may also be
// issued by teachers.
func (svc *service) authorize(actor user.User, role, schoolID string) error {
	if !actor.IsActive || actor.SchoolID != schoolID {
		return core.ErrUnauthorized
	}
	switch role {
	case user.RoleTeacher:
		if !actor.IsAdmin() {
			return core.ErrUnauthorized
		}
	case user.RoleParent:
		if !(actor.IsAdmin() || actor.IsTeacher()) {
			return core.ErrUnauthorized
		}
	default:
		return core.ErrUnauthorized
	}
	return nil
}

// checkPayloadRefs verifies that the role payload's weak references resolve
// within the invite's school.
func (svc *service) checkPayloadRefs(ctx context.Context, ni NewInvite) error {
	switch ni.Role {
	case user.RoleTeacher:
		for _, classID := range ni.Teacher.AssignedClassIDs {
			class, err := svc.schRepo.GetClassByID(ctx, classID)
			if err != nil {
				return core.NewValidationError(err, core.FieldError{Field: "teacher.assigned_class_ids", Error: err.Error()})
			}
			if class.SchoolID != ni.SchoolID {
				return core.NewValidationError(nil, core.FieldError{
					Field: "teacher.assigned_class_ids", Error: "class belongs to another school",
				})
			}
		}
	case user.RoleParent:
		std, err := svc.schRepo.GetStudentByID(ctx, ni.Parent.StudentID)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "parent.student_id", Error: err.Error()})
		}
		if std.SchoolID != ni.SchoolID {
			return core.NewValidationError(nil, core.FieldError{
				Field: "parent.student_id", Error: "student belongs to another school",
			})
		}
	}
	return nil
}

// checkDuplicateIdentity refuses emails already bound to a role.
// One email maps to at most one role for the lifetime of the system.
func (svc *service) checkDuplicateIdentity(ctx context.Context, email string, exec ...core.DBExecutor) error {
	usr, err := svc.usrRepo.GetUser(ctx, user.GetFilter{Email: email}, exec...)
	if err != nil {
		if err == user.ErrNotFound {
			return nil
		}
		return pkgerrors.Wrap(err, "finding user by email")
	}
	if usr.Role != "" {
		return ErrDuplicateIdentity
	}
	return nil
}

func (svc *service) Issue(ctx context.Context, ni NewInvite, actor user.User) (Invite, error) {
	if err := svc.authorize(actor, ni.Role, ni.SchoolID); err != nil {
		return Invite{}, err
	}

	// best-effort early check; re-validated inside the transaction below
	if err := svc.checkDuplicateIdentity(ctx, ni.Email); err != nil {
		return Invite{}, err
	}
	if err := svc.checkPayloadRefs(ctx, ni); err != nil {
		return Invite{}, err
	}

	now := time.Now().UTC()
	inv := Invite{
		Email:     ni.Email,
		Role:      ni.Role,
		SchoolID:  ni.SchoolID,
		Teacher:   ni.Teacher,
		Parent:    ni.Parent,
		Status:    StatusPending,
		CreatedBy: actor.UID,
		CreatedAt: now,
		ExpiresAt: now.Add(svc.conf.InviteTTL),
	}

	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return Invite{}, pkgerrors.Wrap(err, "beginning invite tx")
	}

	inv, err = svc.issueInTx(ctx, inv, tx)
	if err != nil {
		_ = tx.Rollback()
		return Invite{}, err
	}
	if err = tx.Commit(); err != nil {
		return Invite{}, pkgerrors.Wrap(err, "committing invite tx")
	}

	// one outbound email; failure leaves the invite intact and reachable via Resend
	if err = svc.sendInviteMail(inv); err != nil {
		return inv, ErrEmailDispatchFailed
	}
	return inv, nil
}

func (svc *service) issueInTx(ctx context.Context, inv Invite, tx core.DBTransactor) (Invite, error) {
	// re-validate uniqueness in the same unit as the insert; the earlier
	// check-then-act would otherwise race a concurrent finalize
	if err := svc.checkDuplicateIdentity(ctx, inv.Email, tx); err != nil {
		return Invite{}, err
	}

	// supersede any previous pending invite for (email, school)
	prev, err := svc.repo.GetPendingInvite(ctx, inv.Email, inv.SchoolID, tx)
	switch err {
	case nil:
		if err = svc.repo.UpdateInviteStatus(ctx, prev.ID, StatusExpired, tx); err != nil {
			return Invite{}, pkgerrors.Wrap(err, "superseding previous invite")
		}
	case ErrInviteNotFound:
	default:
		return Invite{}, pkgerrors.Wrap(err, "finding previous pending invite")
	}

	inv, err = svc.repo.CreateInvite(ctx, inv, tx)
	if err != nil {
		return Invite{}, pkgerrors.Wrap(err, "creating invite")
	}
	return inv, nil
}

func (svc *service) Resend(ctx context.Context, id string, actor user.User) (Invite, error) {
	inv, err := svc.repo.GetInviteByID(ctx, id)
	if err != nil {
		return Invite{}, err
	}
	if err = svc.authorize(actor, inv.Role, inv.SchoolID); err != nil {
		return Invite{}, err
	}
	if !inv.IsPending() || inv.IsExpired(time.Now().UTC()) {
		return Invite{}, ErrInviteExpired
	}
	if err = svc.sendInviteMail(inv); err != nil {
		return inv, ErrEmailDispatchFailed
	}
	return inv, nil
}

func (svc *service) Revoke(ctx context.Context, id string, actor user.User) error {
	inv, err := svc.repo.GetInviteByID(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.authorize(actor, inv.Role, inv.SchoolID); err != nil {
		return err
	}
	switch inv.Status {
	case StatusPending:
		return svc.repo.UpdateInviteStatus(ctx, inv.ID, StatusRevoked)
	case StatusExpired, StatusRevoked:
		return nil // already dead
	default:
		return ErrInviteConsumed
	}
}

func (svc *service) GetByID(ctx context.Context, id string) (Invite, error) {
	return svc.repo.GetInviteByID(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Invite, error) {
	if ordering == nil {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	return svc.repo.QueryInvites(ctx, filter, ordering)
}

func (svc *service) VerifyLinkToken(ctx context.Context, inviteID, token string) (string, error) {
	inv, err := svc.repo.GetInviteByID(ctx, inviteID)
	if err != nil {
		return "", err
	}
	if err = verifyToken(inv, token, svc.conf.SecretKey); err != nil {
		if err == errTokenExpired {
			// the deadline only gates consumption; an already-applied
			// invite's link keeps replaying past it
			if inv.IsConsumed() {
				return inv.Email, nil
			}
			return "", ErrInviteExpired
		}
		return "", ErrInviteNotFound
	}
	return inv.Email, nil
}

// Finalize converts a consumed sign-in link plus its invite reference into
// durable identity and domain state, exactly once, even under retry,
// double-click and multi-tab conditions. verifiedEmail and principalUID come
// from an already-performed link authentication; this operation does not
// itself authenticate.
func (svc *service) Finalize(ctx context.Context, inviteID, verifiedEmail, principalUID string) (Onboarding, error) {
	email := core.CleanString(verifiedEmail, true /* lower */)

	inv, err := svc.repo.GetInviteByID(ctx, inviteID)
	if err != nil {
		return Onboarding{}, err
	}

	// duplicate submissions of an already-finalized invite are not an error:
	// return the previously computed result
	if inv.IsConsumed() {
		return svc.replay(inv, email)
	}
	if inv.IsExpired(time.Now().UTC()) {
		return Onboarding{}, ErrInviteExpired
	}
	// protects against a link being forwarded to a different mailbox
	if inv.Email != email {
		return Onboarding{}, ErrEmailMismatch
	}

	// the atomic unit: invite consumption is the serialization point; every
	// domain write rides the same transaction or none are applied
	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return Onboarding{}, pkgerrors.Wrap(ErrAtomicWriteFailed, err.Error())
	}

	if err = svc.repo.ConsumeInvite(ctx, inv.ID, principalUID, tx); err != nil {
		_ = tx.Rollback()
		if err == ErrInviteConsumed {
			// lost the race: someone else fully applied this invite
			if inv, err = svc.repo.GetInviteByID(ctx, inviteID); err != nil {
				return Onboarding{}, err
			}
			if inv.IsConsumed() {
				return svc.replay(inv, email)
			}
			return Onboarding{}, ErrInviteExpired // superseded or revoked meanwhile
		}
		return Onboarding{}, pkgerrors.Wrap(ErrAtomicWriteFailed, err.Error())
	}

	usr, err := svc.upsertUser(ctx, inv, email, principalUID, tx)
	if err == nil && usr.UID != principalUID {
		// a merge into a pre-existing identity keeps that identity's uid;
		// the snapshot must point at the resulting user, not the candidate
		err = svc.repo.SetConsumedUID(ctx, inv.ID, usr.UID, tx)
	}
	if err == nil {
		err = svc.linkDomainRecords(ctx, inv, usr.UID, tx)
	}
	if err != nil {
		_ = tx.Rollback()
		switch err {
		case ErrDuplicateIdentity, school.ErrClassNotFound, school.ErrStudentNotFound:
			return Onboarding{}, err
		}
		return Onboarding{}, pkgerrors.Wrap(ErrAtomicWriteFailed, err.Error())
	}

	if err = tx.Commit(); err != nil {
		return Onboarding{}, pkgerrors.Wrap(ErrAtomicWriteFailed, err.Error())
	}

	svc.sendWelcomeMail(usr)
	return Onboarding{Role: inv.Role, SchoolID: inv.SchoolID}, nil
}

// replay returns the result of the original successful finalization.
func (svc *service) replay(inv Invite, email string) (Onboarding, error) {
	if inv.Email != email {
		return Onboarding{}, ErrEmailMismatch
	}
	return Onboarding{Role: inv.Role, SchoolID: inv.SchoolID}, nil
}

// upsertUser materializes the invite's identity record: a fresh User bound to
// principalUID, or a merge into a pre-existing role-less identity.
func (svc *service) upsertUser(ctx context.Context, inv Invite, email, principalUID string, tx core.DBTransactor) (user.User, error) {
	now := time.Now().UTC()

	usr, err := svc.usrRepo.GetUser(ctx, user.GetFilter{Email: email}, tx)
	switch err {
	case nil:
		if usr.Role != "" {
			// one email maps to at most one role, ever
			return user.User{}, ErrDuplicateIdentity
		}
		merged := user.User{
			UID:       usr.UID,
			Name:      svc.inviteeName(inv, usr.Name),
			Role:      inv.Role,
			SchoolID:  inv.SchoolID,
			UpdatedAt: now,
		}
		svc.mergePayload(&merged, inv)
		return svc.usrRepo.UpdateUser(ctx, merged, nil, tx)
	case user.ErrNotFound:
		usr = user.User{
			UID:       principalUID,
			Name:      svc.inviteeName(inv, ""),
			Email:     email,
			Role:      inv.Role,
			SchoolID:  inv.SchoolID,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		svc.mergePayload(&usr, inv)
		return svc.usrRepo.CreateUser(ctx, usr, tx)
	default:
		return user.User{}, err
	}
}

func (svc *service) inviteeName(inv Invite, fallback string) string {
	if inv.Teacher != nil && inv.Teacher.Name != "" {
		return inv.Teacher.Name
	}
	return fallback
}

func (svc *service) mergePayload(usr *user.User, inv Invite) {
	switch inv.Role {
	case user.RoleTeacher:
		usr.AssignedClassIDs = inv.Teacher.AssignedClassIDs
	case user.RoleParent:
		usr.LinkedStudentIDs = appendUnique(usr.LinkedStudentIDs, inv.Parent.StudentID)
	}
}

// linkDomainRecords resolves the payload's weak references to the new uid.
func (svc *service) linkDomainRecords(ctx context.Context, inv Invite, uid string, tx core.DBTransactor) error {
	switch inv.Role {
	case user.RoleTeacher:
		// admin-directed, last writer wins
		for _, classID := range inv.Teacher.AssignedClassIDs {
			if err := svc.schRepo.SetClassTeacher(ctx, classID, uid, tx); err != nil {
				return err
			}
		}
	case user.RoleParent:
		if err := svc.schRepo.SetStudentParent(ctx, inv.Parent.StudentID, uid, tx); err != nil {
			return err
		}
	}
	return nil
}

// sendInviteMail dispatches the sign-in link synchronously so that dispatch
// failure can be surfaced to the inviter.
func (svc *service) sendInviteMail(inv Invite) error {
	token := makeToken(inv, svc.conf.SecretKey)
	link := fmt.Sprintf("%s/onboarding?iid=%s&token=%s", svc.conf.FrontendBaseURL, inv.ID, token)

	return svc.mailSvc.SendMessage(&core.EmailMessage{
		To:           []mail.Address{{Name: svc.inviteeName(inv, ""), Address: inv.Email}},
		Subject:      fmt.Sprintf("You have been invited to join %s", svc.conf.AppName),
		TemplateName: "invite",
		TemplateData: struct {
			Invite Invite
			Link   string
		}{inv, link},
	})
}

func (svc *service) sendWelcomeMail(usr user.User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      fmt.Sprintf("Welcome to %s", svc.conf.AppName),
		TemplateName: "welcome",
		TemplateData: struct{ User user.User }{usr},
	})
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/invite"
	"github.com/darasahq/darasa/core/user"
)

type inviteApi struct {
	svc      invite.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerInviteAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc invite.Service, usrSvc user.Service, validate *validator.Validate) {
	api := inviteApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	// invite management; per-role authorization lives in the service
	ig := g.Group("/invites", jwt, staffMiddleware())
	ig.POST("", api.issue)
	ig.GET("", api.query)
	ig.GET("/:id", api.retrieve)
	ig.POST("/:id/resend", api.resend)
	ig.DELETE("/:id", api.revoke)

	// un-authed endpoints; the link token is the credential
	og := g.Group("/onboarding")
	og.GET("", api.preview)
	og.POST("/complete", api.complete)
}

// Handlers

func (api *inviteApi) issue(ctx echo.Context) error {
	var data invite.NewInvite
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewInvite")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	inv, err := api.svc.Issue(ctx.Request().Context(), data, actor)
	if err != nil {
		// the invite exists and is resendable; tell the inviter
		if errors.Cause(err) == invite.ErrEmailDispatchFailed {
			return ctx.JSON(http.StatusBadGateway, InviteDispatchFailedResponse{
				Invite: inv,
				Error:  err.Error(),
			})
		}
		return err
	}
	return ctx.JSON(http.StatusCreated, inv)
}

func (api *inviteApi) query(ctx echo.Context) error {
	filter := new(invite.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []invite.Invite{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// non-admin staff only see their own school
	if !actor.IsAdmin() || filter.SchoolID == "" {
		filter.SchoolID = actor.SchoolID
	}

	invites, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying invites")
	}
	if invites == nil {
		invites = []invite.Invite{}
	}
	return ctx.JSON(http.StatusOK, invites)
}

func (api *inviteApi) retrieve(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	inv, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if inv.SchoolID != actor.SchoolID {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *inviteApi) resend(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	inv, err := api.svc.Resend(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		if errors.Cause(err) == invite.ErrEmailDispatchFailed {
			return ctx.JSON(http.StatusBadGateway, InviteDispatchFailedResponse{
				Invite: inv,
				Error:  err.Error(),
			})
		}
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *inviteApi) revoke(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.Revoke(ctx.Request().Context(), ctx.Param("id"), actor); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// preview authenticates a completion link and discloses what the invitee is
// being offered, before they commit to an account.
func (api *inviteApi) preview(ctx echo.Context) error {
	var data OnboardingPreviewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OnboardingPreviewRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	email, err := api.svc.VerifyLinkToken(ctx.Request().Context(), data.InviteID, data.Token)
	if err != nil {
		return err
	}
	inv, err := api.svc.GetByID(ctx.Request().Context(), data.InviteID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, OnboardingPreviewResponse{
		Email:    email,
		Role:     inv.Role,
		SchoolID: inv.SchoolID,
	})
}

// complete turns a verified completion link into an account, exactly once.
// Duplicate submissions of the same link land on the replay path and still
// receive a session token.
func (api *inviteApi) complete(ctx echo.Context) error {
	var data OnboardingCompleteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OnboardingCompleteRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()

	email, err := api.svc.VerifyLinkToken(rctx, data.InviteID, data.Token)
	if err != nil {
		return err
	}
	if data.Email != "" && data.Email != email {
		return invite.ErrEmailMismatch
	}

	ob, err := api.svc.Finalize(rctx, data.InviteID, email, uuid.New().String())
	if err != nil {
		return err
	}

	usr, err := api.usrSvc.GetByEmail(rctx, email)
	if err != nil {
		return errors.Wrap(err, "finding onboarded user")
	}

	// first completion sets the chosen password; replays keep the original
	if usr.PasswordHash == nil && data.Password != "" {
		uu := user.UpdateUser{Name: data.Name, Password: data.Password, PasswordConfirm: data.PasswordConfirm}
		if err = uu.Validate(api.validate, usr); err != nil {
			return err
		}
		if usr, err = api.usrSvc.Update(rctx, usr.UID, uu); err != nil {
			return errors.Wrap(err, "setting password")
		}
	}

	token, err := GenerateToken(GetUserClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, OnboardingCompleteResponse{
		Token:    token,
		Role:     ob.Role,
		SchoolID: ob.SchoolID,
	})
}

type (
	InviteDispatchFailedResponse struct {
		Invite invite.Invite `json:"invite"`
		Error  string        `json:"error"`
	}

	OnboardingPreviewRequest struct {
		InviteID string `query:"iid" validate:"required"`
		Token    string `query:"token" validate:"required"`
	}

	OnboardingPreviewResponse struct {
		Email    string `json:"email"`
		Role     string `json:"role"`
		SchoolID string `json:"school_id"`
	}

	OnboardingCompleteRequest struct {
		InviteID        string `json:"invite_id" validate:"required"`
		Token           string `json:"token" validate:"required"`
		Email           string `json:"email" validate:"omitempty,email"`
		Name            string `json:"name"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
	}

	OnboardingCompleteResponse struct {
		Token    string `json:"token"`
		Role     string `json:"role"`
		SchoolID string `json:"school_id"`
	}
)

func (r *OnboardingPreviewRequest) Validate(validate *validator.Validate) error {
	r.InviteID = core.CleanString(r.InviteID)
	r.Token = core.CleanString(r.Token)
	return validate.Struct(r)
}

func (r *OnboardingCompleteRequest) Validate(validate *validator.Validate) error {
	r.InviteID = core.CleanString(r.InviteID)
	r.Token = core.CleanString(r.Token)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.Name = core.CleanString(r.Name)
	return validate.Struct(r)
}

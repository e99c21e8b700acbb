package invite

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

var (
	invitableRoleTag  = "invitablerole"
	invitableRoleText = "only teachers and parents can be invited"
)

// InitValidators registers the invite package's custom validators and translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(invitableRoleTag, invitableRoleValidation)
	core.RegisterCustomTranslation(validate, translator, invitableRoleTag, invitableRoleText)
}

// invitableRoleValidation checks that the provided role can be granted by invite.
// Admins self-register through their own path and are never invited.
func invitableRoleValidation(fl validator.FieldLevel) bool {
	role, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	for _, r := range user.InvitableRoles {
		if role == r {
			return true
		}
	}
	return false
}

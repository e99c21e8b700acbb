package invite

import (
	"testing"
	"time"

	"github.com/darasahq/darasa/core/user"
)

func TestMakeVerifyToken(t *testing.T) {
	secret := []byte("secret")

	now := time.Now().UTC()
	inv := Invite{
		ID:        "1b671a64-40d5-491e-99b0-da01ff1f3341",
		Email:     "t@test.test",
		Role:      user.RoleTeacher,
		SchoolID:  "fd04f52c-5d12-4ea7-8a42-77fd35b0b799",
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}

	validToken := makeToken(inv, secret)

	// generate a token for an invite whose deadline has passed
	expiredInv := inv
	expiredInv.CreatedAt = now.Add(-8 * 24 * time.Hour)
	expiredInv.ExpiresAt = now.Add(-24 * time.Hour)
	expiredToken := makeToken(expiredInv, secret)

	// a consumed invite's token must still verify (replay path)
	consumedInv := inv
	consumedInv.Status = StatusConsumed
	consumedInv.ConsumedUID = "f0716b18-7c21-4437-b5c9-31ebe947b3a4"

	tests := []struct {
		name    string
		inv     Invite
		token   string
		wantErr error
	}{
		{name: "no token", inv: inv, wantErr: errInvalidToken},
		{name: "invalid parts len", inv: inv, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", inv: inv, token: "hahaha-sigsig", wantErr: errInvalidToken},
		{name: "invalid timestamp", inv: inv, token: "NRXWY-sigsig", wantErr: errInvalidToken},
		{name: "invalid signature", inv: inv, token: "HE4TS-sigsig", wantErr: errInvalidToken},
		{name: "token for another invite", inv: expiredInv, token: validToken, wantErr: errInvalidToken},
		{name: "expired invite", inv: expiredInv, token: expiredToken, wantErr: errTokenExpired},
		{name: "valid token", inv: inv, token: validToken},
		{name: "consumed invite still verifies", inv: consumedInv, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verifyToken(tt.inv, tt.token, secret); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMakeVerifyTokenWrongSecret(t *testing.T) {
	now := time.Now().UTC()
	inv := Invite{
		ID:        "1b671a64-40d5-491e-99b0-da01ff1f3341",
		Email:     "t@test.test",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	token := makeToken(inv, []byte("secret"))
	if err := verifyToken(inv, token, []byte("other")); err != errInvalidToken {
		t.Errorf("verifyToken() error = %v, wantErr %v", err, errInvalidToken)
	}
}

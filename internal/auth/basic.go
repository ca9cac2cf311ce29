package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

type BasicAuth struct {
	Store  storage.Store
	Logger zerolog.Logger
}

func (b *BasicAuth) Authenticate(ctx context.Context, header string) (*Principal, error) {
	if header == "" {
		return nil, errors.New("no auth")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "basic" {
		return nil, errors.New("not basic")
	}
	dec, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	creds := strings.SplitN(string(dec), ":", 2)
	if len(creds) != 2 {
		return nil, errors.New("malformed basic")
	}
	username, password := creds[0], creds[1]

	user, err := b.Store.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, errors.New("no local credential for user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("bad credentials")
	}

	principal, err := b.Store.GetPrincipalByID(ctx, user.PrincipalID)
	if err != nil {
		return nil, err
	}
	return &Principal{
		PrincipalID: principal.ID,
		UID:         user.Name,
		Email:       user.Email,
		Display:     principal.DisplayName,
	}, nil
}

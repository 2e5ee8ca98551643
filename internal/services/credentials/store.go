// Package credentials holds the account credentials and fronts the trust
// token store for the login controller.
package credentials

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/interfaces"
	"github.com/ternarybob/steamanim/internal/models"
	"github.com/ternarybob/steamanim/internal/totp"
)

// Store is loaded once at startup.
type Store struct {
	creds  models.Credentials
	tokens interfaces.TrustTokenStore
	logger arbor.ILogger
}

// Load validates the configured credentials. A missing account name, or a
// missing password for a password login, is a configuration error; a
// malformed shared secret is rejected here too so the process fails before
// any network activity.
func Load(cfg common.SteamConfig, tokens interfaces.TrustTokenStore, logger arbor.ILogger) (*Store, error) {
	creds := models.Credentials{
		AccountName:  cfg.AccountName,
		Password:     cfg.Password,
		SharedSecret: cfg.SharedSecret,
		QR:           cfg.QRLogin(),
	}

	if err := validator.New().Struct(creds); err != nil {
		return nil, models.NewError(models.KindConfiguration, "account name and password are required", err)
	}

	if creds.SharedSecret != "" {
		if _, err := totp.DecodeSecret(creds.SharedSecret); err != nil {
			return nil, models.NewError(models.KindInvalidSecret, "shared secret cannot be decoded", err)
		}
	}

	return &Store{
		creds:  creds,
		tokens: tokens,
		logger: logger,
	}, nil
}

// Credentials returns a copy of the credentials.
func (s *Store) Credentials() models.Credentials {
	return s.creds
}

// AccountName returns the account being signed in.
func (s *Store) AccountName() string {
	return s.creds.AccountName
}

// QRLogin reports whether logins are approved by scanning a QR code.
func (s *Store) QRLogin() bool {
	return s.creds.QR
}

// HasSharedSecret reports whether second-factor codes can be derived.
func (s *Store) HasSharedSecret() bool {
	return s.creds.SharedSecret != ""
}

// TrustToken returns the persisted token, nil when none exists. A read
// failure is logged and treated as absent so the login can fall back to a
// full challenge.
func (s *Store) TrustToken(ctx context.Context) []byte {
	token, err := s.tokens.Load(ctx, s.creds.AccountName)
	if err != nil {
		s.logger.Warn().Err(err).Str("account", s.creds.AccountName).Msg("Failed to read trust token, continuing without it")
		return nil
	}
	return token
}

// SaveTrustToken overwrites the persisted token.
func (s *Store) SaveTrustToken(ctx context.Context, token []byte) error {
	if len(token) == 0 {
		return fmt.Errorf("refusing to save empty trust token")
	}
	return s.tokens.Save(ctx, s.creds.AccountName, token)
}

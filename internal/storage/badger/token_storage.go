package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// TrustTokenRecord is the persisted form of a trust token
type TrustTokenRecord struct {
	AccountName string
	Token       []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenStorage implements interfaces.TrustTokenStore for Badger
type TokenStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTokenStorage creates a new TokenStorage instance
func NewTokenStorage(db *BadgerDB, logger arbor.ILogger) *TokenStorage {
	return &TokenStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey converts an account name to the record key (account names are case-insensitive)
func (s *TokenStorage) normalizeKey(accountName string) string {
	return "trust_token:" + strings.ToLower(strings.TrimSpace(accountName))
}

// Load returns the token for the account, or nil when none is stored
func (s *TokenStorage) Load(ctx context.Context, accountName string) ([]byte, error) {
	var record TrustTokenRecord
	err := s.db.Store().Get(s.normalizeKey(accountName), &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust token: %w", err)
	}
	return record.Token, nil
}

// Save inserts or overwrites the token for the account
func (s *TokenStorage) Save(ctx context.Context, accountName string, token []byte) error {
	key := s.normalizeKey(accountName)
	now := time.Now()

	record := TrustTokenRecord{
		AccountName: accountName,
		Token:       token,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var existing TrustTokenRecord
	if err := s.db.Store().Get(key, &existing); err == nil {
		record.CreatedAt = existing.CreatedAt
	} else if err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to check trust token existence: %w", err)
	}

	if err := s.db.Store().Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to save trust token: %w", err)
	}

	s.logger.Debug().Str("account", accountName).Int("bytes", len(token)).Msg("Trust token saved")
	return nil
}

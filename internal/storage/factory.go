package storage

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/interfaces"
	"github.com/ternarybob/steamanim/internal/storage/badger"
	"github.com/ternarybob/steamanim/internal/storage/file"
)

// NewTrustTokenStore creates the trust token store selected by config.
// The returned close function releases the underlying database, if any.
func NewTrustTokenStore(logger arbor.ILogger, config *common.Config) (interfaces.TrustTokenStore, func() error, error) {
	switch strings.ToLower(config.Storage.Type) {
	case "", "file":
		store := file.NewTokenStore(config.Storage.File.Path, logger)
		logger.Debug().Str("path", store.Path()).Msg("Using file trust token store")
		return store, func() error { return nil }, nil
	case "badger":
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug().Str("path", db.Path()).Msg("Using badger trust token store")
		return badger.NewTokenStorage(db, logger), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s (expected 'file' or 'badger')", config.Storage.Type)
	}
}

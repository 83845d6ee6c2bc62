package badger

import (
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/mopscrawl/internal/common"
)

// ledgerValueLogSize keeps value log files small; a run ledger holds a few KB per entity
const ledgerValueLogSize = 16 << 20

// BadgerDB owns the ledger database
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	path   string
}

// NewBadgerDB opens the ledger at config.Path, wiping it first when ResetOnStartup is set
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}

	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing ledger (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete ledger directory")
			}
		}
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badgerdb.DefaultOptions(config.Path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithValueLogFileSize(ledgerValueLogSize)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Run ledger opened")

	return &BadgerDB{
		store:  store,
		logger: logger,
		path:   config.Path,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close runs one value log GC pass and closes the database
func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}

	if err := b.store.Badger().RunValueLogGC(0.5); err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		b.logger.Debug().Err(err).Str("path", b.path).Msg("Ledger value log GC skipped")
	}

	err := b.store.Close()
	b.store = nil
	return err
}

package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

// LedgerStorage keeps one EntityOutcome per entity per run
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.RunLedger = (*LedgerStorage)(nil)

func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) *LedgerStorage {
	return &LedgerStorage{db: db, logger: logger}
}

// Record upserts the outcome under its ID, so a re-recorded entity replaces the old entry
func (s *LedgerStorage) Record(ctx context.Context, outcome models.EntityOutcome) error {
	if outcome.ID == "" {
		return fmt.Errorf("outcome id is required")
	}
	if err := s.db.Store().Upsert(outcome.ID, &outcome); err != nil {
		return fmt.Errorf("failed to record outcome %s: %w", outcome.ID, err)
	}
	s.logger.Trace().
		Str("id", outcome.ID).
		Str("status", outcome.Status).
		Msg("Recorded entity outcome")
	return nil
}

// ListRun returns the outcomes of runID in entity order
func (s *LedgerStorage) ListRun(ctx context.Context, runID string) ([]models.EntityOutcome, error) {
	var outcomes []models.EntityOutcome
	query := badgerhold.Where("RunID").Eq(runID).SortBy("Index")
	if err := s.db.Store().Find(&outcomes, query); err != nil {
		return nil, fmt.Errorf("failed to list run %s: %w", runID, err)
	}
	return outcomes, nil
}

package interfaces

import (
	"context"

	"github.com/ternarybob/mopscrawl/internal/models"
)

// EntityRepository loads the input entities and persists crawl results
type EntityRepository interface {
	// LoadEntities returns entities in input order. A missing source yields no entities.
	LoadEntities(ctx context.Context) ([]models.Entity, error)

	// SaveResults writes entities in the fixed column order. Empty input is a no-op.
	SaveResults(ctx context.Context, entities []models.Entity) error
}

// RunLedger records the outcome of every entity of every run
type RunLedger interface {
	Record(ctx context.Context, outcome models.EntityOutcome) error
	ListRun(ctx context.Context, runID string) ([]models.EntityOutcome, error)
}

package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID generates a unique crawl run ID with the "run_" prefix
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// OutcomeID builds the ledger key for the entity at index within a run.
// Keys sort in input order for a given run.
func OutcomeID(runID string, index int) string {
	return fmt.Sprintf("%s:%05d", runID, index)
}

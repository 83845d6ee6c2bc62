package models

import "time"

// Outcome statuses recorded in the run ledger
const (
	OutcomeSuccess = "success"
	OutcomeNoData  = "no_data"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// EntityOutcome is the ledger record for one entity in one run
type EntityOutcome struct {
	ID         string    `json:"id" badgerhold:"key"`
	RunID      string    `json:"run_id" badgerhold:"index"`
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

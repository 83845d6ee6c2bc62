// -----------------------------------------------------------------------
// Workflow Result - Tagged outcome of one entity workflow attempt
// -----------------------------------------------------------------------

package models

import "fmt"

// WorkflowStage is a state of the per-entity workflow. Stages only move forward.
type WorkflowStage int

const (
	StageIdle WorkflowStage = iota
	StageSearching
	StageSubmitting
	StageAwaitingCompanyInfo
	StageTriggeringReportExport
	StageAwaitingReportWindow
	StageExtractingData
	StageDone
)

var stageNames = map[WorkflowStage]string{
	StageIdle:                   "idle",
	StageSearching:              "searching",
	StageSubmitting:             "submitting",
	StageAwaitingCompanyInfo:    "awaiting_company_info",
	StageTriggeringReportExport: "triggering_report_export",
	StageAwaitingReportWindow:   "awaiting_report_window",
	StageExtractingData:         "extracting_data",
	StageDone:                   "done",
}

func (s WorkflowStage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ResultKind tags a WorkflowResult
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultNoData
	ResultTransientFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultNoData:
		return "no_data"
	case ResultTransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// WorkflowResult is Success(entity) | NoData | TransientFailure(cause).
// Only TransientFailure is retried.
type WorkflowResult struct {
	Kind   ResultKind
	Entity *Entity
	Cause  error
	Reason string
	Stage  WorkflowStage
}

// Success wraps the updated entity
func Success(entity Entity, stage WorkflowStage) WorkflowResult {
	return WorkflowResult{Kind: ResultSuccess, Entity: &entity, Stage: stage}
}

// NoData marks the target as absent for this entity
func NoData(reason string, stage WorkflowStage) WorkflowResult {
	return WorkflowResult{Kind: ResultNoData, Reason: reason, Stage: stage}
}

// TransientFailure marks a recoverable failure
func TransientFailure(cause error, stage WorkflowStage) WorkflowResult {
	return WorkflowResult{Kind: ResultTransientFailure, Cause: cause, Stage: stage}
}

// Err returns the cause for transient failures and nil otherwise
func (r WorkflowResult) Err() error {
	if r.Kind == ResultTransientFailure {
		if r.Cause == nil {
			return fmt.Errorf("transient failure at %s", r.Stage)
		}
		return r.Cause
	}
	return nil
}

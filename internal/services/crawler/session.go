// -----------------------------------------------------------------------
// Session Controller - sequences entities over one browser session
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/mopscrawl/internal/common"
	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

// ControllerConfig holds the two independent retry scopes and entity pacing
type ControllerConfig struct {
	StepPolicy   RetryPolicy
	EntityPolicy RetryPolicy
	EntityPace   time.Duration
	SaveTimeout  time.Duration
}

// ControllerDeps are the collaborators of a Controller. Resolver and Ledger are optional.
type ControllerDeps struct {
	Browser  interfaces.RemoteControl
	Windows  *WindowManager
	Workflow *Workflow
	Home     *HomeGuard
	Resolver *CodeResolver
	Repo     interfaces.EntityRepository
	Ledger   interfaces.RunLedger
	Executor *RetryExecutor
	Clock    Clock
	Logger   arbor.ILogger
}

// RunSummary reports the outcome of one run
type RunSummary struct {
	RunID     string
	Total     int
	Succeeded int
	NoData    int
	Skipped   int
	Failed    int
	Results   []models.Entity

	// Recorded counts ledger outcomes per status; nil without a ledger
	Recorded map[string]int
}

// Controller runs the per-entity workflow for every input entity, one at a time
type Controller struct {
	deps   ControllerDeps
	config ControllerConfig
}

func NewController(deps ControllerDeps, config ControllerConfig) *Controller {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = time.Minute
	}
	return &Controller{deps: deps, config: config}
}

// Run crawls every entity and saves the successes in input order. The browser session is
// always released. Only a session that never reaches the home page returns ErrFatalSession;
// per-entity failures are logged and skipped.
func (c *Controller) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{RunID: common.NewRunID()}
	logger := c.deps.Logger.WithCorrelationId(summary.RunID)

	defer func() {
		if err := c.deps.Browser.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release browser session")
		}
	}()

	entities, err := c.deps.Repo.LoadEntities(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load entities")
		return summary, nil
	}
	summary.Total = len(entities)
	if len(entities) == 0 {
		logger.Warn().Msg("No entities to crawl")
		return summary, nil
	}

	logger.Info().Int("entities", len(entities)).Msg("Crawl run starting")

	if c.deps.Resolver != nil {
		resolved, err := c.deps.Resolver.Resolve(ctx, entities)
		if err != nil {
			logger.Warn().Err(err).Msg("Code resolution incomplete")
		}
		logger.Info().Int("resolved", resolved).Msg("Code resolution finished")
	}

	_, err = Retry(ctx, c.deps.Executor, "session init", c.config.StepPolicy, nil, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.deps.Home.Open(ctx)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Unable to reach home page")
		return summary, fmt.Errorf("%w: %v", ErrFatalSession, err)
	}

	state, err := c.deps.Windows.Establish(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Unable to establish main window")
		return summary, fmt.Errorf("%w: %v", ErrFatalSession, err)
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if c.config.EntityPace > 0 {
		pacer = rate.NewLimiter(rate.Every(c.config.EntityPace), 1)
	}

	results := make([]models.Entity, 0, len(entities))
	for i := range entities {
		if err := pacer.Wait(ctx); err != nil {
			logger.Warn().Err(err).Int("remaining", len(entities)-i).Msg("Run abandoned")
			break
		}

		result, attempts := c.crawlEntity(ctx, logger, &state, entities[i])

		status := models.OutcomeFailed
		switch {
		case result.Kind == models.ResultSuccess:
			status = models.OutcomeSuccess
			entities[i] = *result.Entity
			results = append(results, entities[i])
			summary.Succeeded++
		case result.Kind == models.ResultNoData && result.Stage == models.StageIdle:
			status = models.OutcomeSkipped
			summary.Skipped++
		case result.Kind == models.ResultNoData:
			status = models.OutcomeNoData
			summary.NoData++
		default:
			summary.Failed++
		}

		c.record(ctx, logger, summary.RunID, i, entities[i], status, attempts, result)
	}

	summary.Results = results
	c.save(ctx, logger, results)
	summary.Recorded = c.reconcile(ctx, logger, summary.RunID)

	logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("no_data", summary.NoData).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("Crawl run finished")

	return summary, nil
}

// crawlEntity runs the workflow under the entity-level policy. Every attempt re-runs the
// whole workflow. Exhaustion returns a TransientFailure result and is never an error.
func (c *Controller) crawlEntity(ctx context.Context, logger arbor.ILogger, state *SessionState, entity models.Entity) (models.WorkflowResult, int) {
	logger.Info().
		Str("entity", entity.Name).
		Str("code", entity.Code).
		Msg("Crawling entity")

	if entity.HasCode() {
		if err := c.deps.Home.Ensure(ctx); err != nil {
			logger.Warn().Err(err).Str("entity", entity.Name).Msg("Failed to return to home page before workflow")
		}
	}

	probe := func(ctx context.Context) error {
		if !state.SingleWindow() {
			cleaned, err := c.deps.Windows.Cleanup(ctx, *state)
			*state = cleaned
			if err != nil {
				return err
			}
		}
		return c.deps.Home.Ensure(ctx)
	}

	attempts := 0
	var last models.WorkflowResult
	result, err := Retry(ctx, c.deps.Executor, "entity "+entity.Name, c.config.EntityPolicy, probe, func(ctx context.Context) (models.WorkflowResult, error) {
		attempts++
		res, next := c.deps.Workflow.Run(ctx, *state, entity)
		*state = next
		last = res
		if res.Kind == models.ResultTransientFailure {
			logger.Warn().
				Str("entity", entity.Name).
				Int("attempt", attempts).
				Str("stage", res.Stage.String()).
				Err(res.Err()).
				Msg("Workflow attempt failed")
			return res, res.Err()
		}
		return res, nil
	})

	if !state.SingleWindow() {
		cleaned, cerr := c.deps.Windows.Cleanup(context.WithoutCancel(ctx), *state)
		*state = cleaned
		if cerr != nil {
			logger.Error().Err(cerr).Msg("Failed to restore single window between entities")
		}
	}

	if err != nil {
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			logger.Error().
				Str("entity", entity.Name).
				Int("attempts", exhausted.Attempts).
				Err(exhausted.Err).
				Msg("Entity failed, retries exhausted, skipping")
		} else {
			logger.Error().Str("entity", entity.Name).Err(err).Msg("Entity abandoned")
		}
		return models.TransientFailure(err, last.Stage), attempts
	}

	switch result.Kind {
	case models.ResultSuccess:
		logger.Info().Str("entity", entity.Name).Int("attempts", attempts).Msg("Entity crawled")
	case models.ResultNoData:
		logger.Info().Str("entity", entity.Name).Str("reason", result.Reason).Msg("No data for entity")
	}
	return result, attempts
}

func (c *Controller) record(ctx context.Context, logger arbor.ILogger, runID string, index int, entity models.Entity, status string, attempts int, result models.WorkflowResult) {
	if c.deps.Ledger == nil {
		return
	}

	now := c.deps.Clock.Now()
	outcome := models.EntityOutcome{
		ID:         common.OutcomeID(runID, index),
		RunID:      runID,
		Index:      index,
		Name:       entity.Name,
		Code:       entity.Code,
		Status:     status,
		Attempts:   attempts,
		Stage:      result.Stage.String(),
		Reason:     result.Reason,
		FinishedAt: now,
	}
	if cause := result.Err(); cause != nil {
		outcome.Cause = cause.Error()
	}

	if err := c.deps.Ledger.Record(context.WithoutCancel(ctx), outcome); err != nil {
		logger.Warn().Err(err).Str("entity", entity.Name).Msg("Failed to record entity outcome")
	}
}

// reconcile reads the run back from the ledger and logs the outcome count per status
func (c *Controller) reconcile(ctx context.Context, logger arbor.ILogger, runID string) map[string]int {
	if c.deps.Ledger == nil {
		return nil
	}

	outcomes, err := c.deps.Ledger.ListRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read run ledger")
		return nil
	}

	counts := make(map[string]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	logger.Info().
		Int("recorded", len(outcomes)).
		Int("success", counts[models.OutcomeSuccess]).
		Int("no_data", counts[models.OutcomeNoData]).
		Int("skipped", counts[models.OutcomeSkipped]).
		Int("failed", counts[models.OutcomeFailed]).
		Msg("Run ledger")
	return counts
}

func (c *Controller) save(ctx context.Context, logger arbor.ILogger, results []models.Entity) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.SaveTimeout)
	defer cancel()

	if err := c.deps.Repo.SaveResults(saveCtx, results); err != nil {
		logger.Error().Err(err).Int("results", len(results)).Msg("Failed to save results")
		return
	}
	logger.Info().Int("results", len(results)).Msg("Results saved")
}

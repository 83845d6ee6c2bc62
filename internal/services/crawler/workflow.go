// -----------------------------------------------------------------------
// Entity Workflow - search, report export and extraction for one entity
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

// DefaultReportScript submits the hidden report form into a new browsing context.
// Arguments: code, year, season, form action.
const DefaultReportScript = `
var form = document.fm1;
form.step.value = '1';
form.co_id.value = arguments[0];
form.year.value = arguments[1];
form.season.value = arguments[2];
form.action = arguments[3];
form.target = '_blank';
form.submit();
`

// WorkflowConfig holds selectors, bounded waits and the fixed report target
type WorkflowConfig struct {
	SearchInput   string
	SubmitButton  string
	ReportTrigger string

	ElementWait    time.Duration
	TypeSettle     time.Duration
	SubmitSettle   time.Duration
	ExportSettle   time.Duration
	CleanupTimeout time.Duration

	ReportScript string
	ReportYear   string
	ReportSeason string
	ReportAction string
	ReportWindow WindowMatcher
}

// NewWorkflowConfig returns the settings for the MOPS company search page
func NewWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		SearchInput:    "#keyword",
		SubmitButton:   "#rulesubmit",
		ReportTrigger:  "#button11",
		ElementWait:    10 * time.Second,
		TypeSettle:     1 * time.Second,
		SubmitSettle:   3 * time.Second,
		ExportSettle:   2 * time.Second,
		CleanupTimeout: 30 * time.Second,
		ReportScript:   DefaultReportScript,
		ReportYear:     "113",
		ReportSeason:   "04",
		ReportAction:   "/mops/web/ajax_t164sb04",
		ReportWindow:   URLContains("ajax_t164sb04"),
	}
}

// Workflow drives one entity through
// Idle → Searching → Submitting → AwaitingCompanyInfo → TriggeringReportExport →
// AwaitingReportWindow → ExtractingData → Done.
type Workflow struct {
	browser    interfaces.RemoteControl
	windows    *WindowManager
	extractor  interfaces.Extractor
	executor   *RetryExecutor
	stepPolicy RetryPolicy
	home       *HomeGuard
	clock      Clock
	logger     arbor.ILogger
	config     WorkflowConfig
}

// NewWorkflow wires a workflow. home may be nil, in which case step retries run without a probe.
func NewWorkflow(
	browser interfaces.RemoteControl,
	windows *WindowManager,
	extractor interfaces.Extractor,
	executor *RetryExecutor,
	stepPolicy RetryPolicy,
	home *HomeGuard,
	clock Clock,
	logger arbor.ILogger,
	config WorkflowConfig,
) *Workflow {
	if clock == nil {
		clock = NewRealClock()
	}
	if config.ReportWindow == nil {
		config.ReportWindow = URLContains(config.ReportAction)
	}
	if config.ReportScript == "" {
		config.ReportScript = DefaultReportScript
	}
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = 30 * time.Second
	}
	return &Workflow{
		browser:    browser,
		windows:    windows,
		extractor:  extractor,
		executor:   executor,
		stepPolicy: stepPolicy,
		home:       home,
		clock:      clock,
		logger:     logger,
		config:     config,
	}
}

// Run performs one full attempt for entity. The entity is never modified; on success the
// result carries an updated copy. Once the export has been triggered, window cleanup always
// runs before Run returns, and the returned state reflects it.
func (w *Workflow) Run(ctx context.Context, state SessionState, entity models.Entity) (result models.WorkflowResult, next SessionState) {
	next = state

	if !entity.HasCode() {
		w.logger.Warn().Str("entity", entity.Name).Msg("Entity has no code, skipping")
		return models.NoData("no usable code", models.StageIdle), next
	}

	code := entity.Code
	updated := entity

	w.enter(entity, models.StageSearching)
	var probe RecoveryProbe
	if w.home != nil {
		probe = w.home.Ensure
	}
	_, err := Retry(ctx, w.executor, "search "+code, w.stepPolicy, probe, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.enterCode(ctx, code)
	})
	if err != nil {
		return models.TransientFailure(fmt.Errorf("search input: %w", err), models.StageSearching), next
	}

	w.enter(entity, models.StageSubmitting)
	if err := w.browser.WaitClickable(ctx, w.config.SubmitButton, w.config.ElementWait); err != nil {
		return models.TransientFailure(fmt.Errorf("submit button: %w", err), models.StageSubmitting), next
	}
	if err := w.browser.Click(ctx, w.config.SubmitButton); err != nil {
		return models.TransientFailure(fmt.Errorf("submit click: %w", err), models.StageSubmitting), next
	}
	if err := w.clock.Sleep(ctx, w.config.SubmitSettle); err != nil {
		return models.TransientFailure(err, models.StageSubmitting), next
	}

	w.enter(entity, models.StageAwaitingCompanyInfo)
	w.readCompanyInfo(ctx, entity, &updated)

	if err := w.browser.WaitClickable(ctx, w.config.ReportTrigger, w.config.ElementWait); err != nil {
		return models.TransientFailure(fmt.Errorf("report trigger not ready: %w", err), models.StageAwaitingCompanyInfo), next
	}

	w.enter(entity, models.StageTriggeringReportExport)
	baseline, err := w.windows.Snapshot(ctx)
	if err != nil {
		return models.TransientFailure(err, models.StageTriggeringReportExport), next
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.CleanupTimeout)
		defer cancel()

		cleaned, err := w.windows.Cleanup(cleanupCtx, next)
		next = cleaned
		if err != nil {
			w.logger.Error().Err(err).Str("entity", entity.Name).Msg("Window cleanup failed")
		}
	}()

	err = w.browser.ExecuteScript(ctx, w.config.ReportScript,
		code, w.config.ReportYear, w.config.ReportSeason, w.config.ReportAction)
	if err != nil {
		return models.TransientFailure(fmt.Errorf("report export: %w", err), models.StageTriggeringReportExport), next
	}
	if err := w.clock.Sleep(ctx, w.config.ExportSettle); err != nil {
		return models.TransientFailure(err, models.StageTriggeringReportExport), next
	}

	w.enter(entity, models.StageAwaitingReportWindow)
	next, _, found, err := w.windows.AwaitNewWindow(ctx, next, baseline, w.config.ReportWindow)
	if err != nil {
		return models.TransientFailure(fmt.Errorf("report window: %w", err), models.StageAwaitingReportWindow), next
	}
	if !found {
		w.logger.Info().Str("entity", entity.Name).Str("code", code).Msg("Report window never appeared")
		return models.NoData("report window not found", models.StageAwaitingReportWindow), next
	}

	w.enter(entity, models.StageExtractingData)
	html, err := w.browser.PageHTML(ctx)
	if err != nil {
		return models.TransientFailure(fmt.Errorf("report html: %w", err), models.StageExtractingData), next
	}

	financials := w.extractor.Financials(html)
	if financials.Empty() {
		w.logger.Info().Str("entity", entity.Name).Str("code", code).Msg("Report has no financial line items")
		return models.NoData("no financial data in report", models.StageExtractingData), next
	}
	updated.ApplyFinancials(financials)

	w.logger.Info().
		Str("entity", entity.Name).
		Str("code", code).
		Str("industry", updated.Industry).
		Str("annual_revenue", updated.AnnualRevenue).
		Str("gross_profit", updated.GrossProfit).
		Str("gross_margin", updated.GrossMargin).
		Str("profit_before_tax", updated.ProfitBeforeTax).
		Str("profit_after_tax", updated.ProfitAfterTax).
		Msg("Financial data extracted")

	return models.Success(updated, models.StageDone), next
}

func (w *Workflow) enterCode(ctx context.Context, code string) error {
	if err := w.browser.FindElement(ctx, w.config.SearchInput, w.config.ElementWait); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrElementNotFound, w.config.SearchInput, err)
	}
	if err := w.browser.Clear(ctx, w.config.SearchInput); err != nil {
		return err
	}
	if err := w.browser.TypeText(ctx, w.config.SearchInput, code); err != nil {
		return err
	}
	return w.clock.Sleep(ctx, w.config.TypeSettle)
}

// readCompanyInfo applies the identity block. Missing info never fails the workflow.
func (w *Workflow) readCompanyInfo(ctx context.Context, entity models.Entity, updated *models.Entity) {
	html, err := w.browser.PageHTML(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Str("entity", entity.Name).Msg("Failed to read company info page")
		return
	}

	info, ok := w.extractor.CompanyInfo(html)
	if !ok {
		w.logger.Warn().Str("entity", entity.Name).Msg("Company info block not found")
		return
	}

	updated.Industry = info.Industry
	w.logger.Debug().
		Str("entity", entity.Name).
		Str("company_name", info.Name).
		Str("company_code", info.Code).
		Str("industry", info.Industry).
		Msg("Company info")
}

func (w *Workflow) enter(entity models.Entity, stage models.WorkflowStage) {
	w.logger.Trace().
		Str("entity", entity.Name).
		Str("stage", stage.String()).
		Msg("Workflow stage")
}

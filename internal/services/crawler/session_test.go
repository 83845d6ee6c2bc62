package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/mopscrawl/internal/models"
)

type memRepository struct {
	entities []models.Entity
	loadErr  error
	saveErr  error
	saved    [][]models.Entity
}

func (r *memRepository) LoadEntities(ctx context.Context) ([]models.Entity, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := make([]models.Entity, len(r.entities))
	copy(out, r.entities)
	return out, nil
}

func (r *memRepository) SaveResults(ctx context.Context, entities []models.Entity) error {
	r.saved = append(r.saved, entities)
	return r.saveErr
}

type memLedger struct {
	outcomes []models.EntityOutcome
	listErr  error
}

func (l *memLedger) Record(ctx context.Context, outcome models.EntityOutcome) error {
	l.outcomes = append(l.outcomes, outcome)
	return nil
}

func (l *memLedger) ListRun(ctx context.Context, runID string) ([]models.EntityOutcome, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	var out []models.EntityOutcome
	for _, o := range l.outcomes {
		if o.RunID == runID {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestController(h *harness, repo *memRepository, ledger *memLedger) *Controller {
	deps := ControllerDeps{
		Browser:  h.browser,
		Windows:  h.windows,
		Workflow: h.workflow,
		Home:     h.home,
		Repo:     repo,
		Executor: h.executor,
		Clock:    h.clock,
		Logger:   h.logger,
	}
	if ledger != nil {
		deps.Ledger = ledger
	}
	return NewController(deps, ControllerConfig{
		StepPolicy:   testPolicy(),
		EntityPolicy: testPolicy(),
	})
}

func TestController_Run(t *testing.T) {
	h := newHarness()
	h.withReport("1101", models.Financials{AnnualRevenue: "109,500,000", GrossMargin: "18.35"})
	h.withReport("2330", models.Financials{AnnualRevenue: "2,161,736,841", ProfitAfterTax: "838,497,664"})
	h.browser.onScript = reportOpener("1234")

	repo := &memRepository{entities: []models.Entity{
		{Name: "台泥", Code: "1101"},
		{Name: "Gamma"},
		{Name: "Acme", Code: "1234"},
		{Name: "台積電", Code: "2330"},
	}}
	ledger := &memLedger{}

	summary, err := newTestController(h, repo, ledger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.NoData)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	// successes only, in input order
	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	require.Len(t, saved, 2)
	assert.Equal(t, "台泥", saved[0].Name)
	assert.Equal(t, "109,500,000", saved[0].AnnualRevenue)
	assert.Equal(t, "18.35", saved[0].GrossMargin)
	assert.Equal(t, "台積電", saved[1].Name)
	assert.Equal(t, "838,497,664", saved[1].ProfitAfterTax)
	assert.Equal(t, saved, summary.Results)

	assert.Equal(t, 3, h.browser.Calls("ExecuteScript"), "one export per entity with a code")
	assert.Len(t, h.browser.Handles(), 1)
	assert.True(t, h.browser.closed, "browser session released")

	require.Len(t, ledger.outcomes, 4)
	statuses := []string{}
	for i, o := range ledger.outcomes {
		assert.Equal(t, summary.RunID, o.RunID)
		assert.Equal(t, i, o.Index)
		statuses = append(statuses, o.Status)
	}
	assert.Equal(t, []string{
		models.OutcomeSuccess,
		models.OutcomeSkipped,
		models.OutcomeNoData,
		models.OutcomeSuccess,
	}, statuses)

	assert.Equal(t, map[string]int{
		models.OutcomeSuccess: 2,
		models.OutcomeSkipped: 1,
		models.OutcomeNoData:  1,
	}, summary.Recorded)
}

func TestController_EntityExhaustsRetriesAndRunContinues(t *testing.T) {
	h := newHarness()
	h.withReport("1101", models.Financials{AnnualRevenue: "109,500,000"})
	h.withReport("2330", models.Financials{AnnualRevenue: "2,161,736,841"})

	exports := map[string]int{}
	h.browser.onScript = func(f *fakeBrowser, args []interface{}) error {
		code := args[0].(string)
		exports[code]++
		if code == "9999" {
			f.OpenWindow("about:blank")
			return errors.New("form fm1 is undefined")
		}
		f.OpenWindow(reportURLFor(code))
		return nil
	}

	repo := &memRepository{entities: []models.Entity{
		{Name: "台泥", Code: "1101"},
		{Name: "Broken", Code: "9999"},
		{Name: "台積電", Code: "2330"},
	}}
	ledger := &memLedger{}

	summary, err := newTestController(h, repo, ledger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, exports["9999"], "the whole workflow runs once per entity attempt")
	assert.Equal(t, 1, exports["1101"])
	assert.Equal(t, 1, exports["2330"])
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, repo.saved, 1)
	require.Len(t, repo.saved[0], 2)
	assert.Equal(t, "台泥", repo.saved[0][0].Name)
	assert.Equal(t, "台積電", repo.saved[0][1].Name)
	assert.Len(t, h.browser.Handles(), 1)

	require.Len(t, ledger.outcomes, 3)
	failed := ledger.outcomes[1]
	assert.Equal(t, models.OutcomeFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, models.StageTriggeringReportExport.String(), failed.Stage)
	assert.Contains(t, failed.Cause, "form fm1 is undefined")
}

func TestController_FatalSessionInit(t *testing.T) {
	h := newHarness()
	h.browser.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	repo := &memRepository{entities: []models.Entity{{Name: "台泥", Code: "1101"}}}

	summary, err := newTestController(h, repo, nil).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalSession)
	assert.Equal(t, 3, h.browser.Calls("Navigate"), "session init is retried under the step policy")
	assert.Equal(t, 0, summary.Succeeded)
	assert.Empty(t, repo.saved)
	assert.True(t, h.browser.closed)
}

func TestController_LoadFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	repo := &memRepository{loadErr: errors.New("workbook is locked")}

	summary, err := newTestController(h, repo, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, h.browser.Calls("Navigate"))
	assert.True(t, h.browser.closed)
}

func TestController_SaveFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.withReport("1101", models.Financials{AnnualRevenue: "109,500,000"})
	repo := &memRepository{
		entities: []models.Entity{{Name: "台泥", Code: "1101"}},
		saveErr:  errors.New("permission denied"),
	}

	summary, err := newTestController(h, repo, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, repo.saved, 1)
}

func TestController_CancelledRunStillSaves(t *testing.T) {
	h := newHarness()
	h.withReport("1101", models.Financials{AnnualRevenue: "109,500,000"})

	ctx, cancel := context.WithCancel(context.Background())
	h.browser.onScript = func(f *fakeBrowser, args []interface{}) error {
		f.OpenWindow(reportURLFor(args[0].(string)))
		if args[0].(string) == "1101" {
			return nil
		}
		cancel()
		return errors.New("interrupted")
	}
	repo := &memRepository{entities: []models.Entity{
		{Name: "台泥", Code: "1101"},
		{Name: "台積電", Code: "2330"},
		{Name: "聯電", Code: "2303"},
	}}

	summary, err := newTestController(h, repo, nil).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, repo.saved, 1)
	require.Len(t, repo.saved[0], 1)
	assert.Equal(t, "台泥", repo.saved[0][0].Name)
	assert.Len(t, h.browser.Handles(), 1)
	assert.True(t, h.browser.closed)
}

func TestController_RecoversWhenMainWindowDrifts(t *testing.T) {
	h := newHarness()
	h.withReport("1101", models.Financials{AnnualRevenue: "109,500,000"})

	attempts := 0
	h.browser.onScript = func(f *fakeBrowser, args []interface{}) error {
		attempts++
		if attempts == 1 {
			f.SetURL(f.Handles()[0], "chrome-error://chromewebdata/")
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		f.OpenWindow(reportURLFor(args[0].(string)))
		return nil
	}
	repo := &memRepository{entities: []models.Entity{{Name: "台泥", Code: "1101"}}}
	ledger := &memLedger{}

	summary, err := newTestController(h, repo, ledger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, h.browser.Calls("Navigate"), "init plus one return to the home page")
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, h.browser.Handles(), 1)

	require.Len(t, ledger.outcomes, 1)
	assert.Equal(t, models.OutcomeSuccess, ledger.outcomes[0].Status)
	assert.Equal(t, 2, ledger.outcomes[0].Attempts)
}

func TestController_LedgerReadFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.withReport("1101", models.Financials{AnnualRevenue: "109,500,000"})
	repo := &memRepository{entities: []models.Entity{{Name: "台泥", Code: "1101"}}}
	ledger := &memLedger{listErr: errors.New("ledger closed")}

	summary, err := newTestController(h, repo, ledger).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Nil(t, summary.Recorded)
	assert.Len(t, ledger.outcomes, 1)
}

package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mopscrawl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, "data/input/company_list.xlsx", config.Dataset.Input)
	assert.Equal(t, "data/output/results.xlsx", config.Dataset.Output)
	assert.Equal(t, 3, config.Retry.Step.MaxAttempts)
	assert.Equal(t, 3, config.Retry.Entity.MaxAttempts)
	assert.Equal(t, 5*time.Second, Duration(config.Retry.Entity.BaseDelay))
}

func TestLoadFromFiles_LayersFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[report]
year = "112"
season = "02"

[retry.entity]
max_attempts = 5
backoff = "exponential"
max_delay = "1m"

[logging]
level = "debug"
output = ["stdout"]
`)

	config, err := LoadFromFiles(path)

	require.NoError(t, err)
	assert.Equal(t, "112", config.Report.Year)
	assert.Equal(t, "02", config.Report.Season)
	assert.Equal(t, "/mops/web/ajax_t164sb04", config.Report.Action, "unset keys keep defaults")
	assert.Equal(t, 5, config.Retry.Entity.MaxAttempts)
	assert.Equal(t, "exponential", config.Retry.Entity.Backoff)
	assert.Equal(t, time.Minute, Duration(config.Retry.Entity.MaxDelay))
	assert.Equal(t, 3, config.Retry.Step.MaxAttempts)
	assert.Equal(t, []string{"stdout"}, config.Logging.Output)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[browser]
headless = false

[dataset]
input = "from-file.xlsx"
`)
	t.Setenv("MOPSCRAWL_HEADLESS", "true")
	t.Setenv("MOPSCRAWL_INPUT", "from-env.xlsx")
	t.Setenv("MOPSCRAWL_ENTITY_MAX_ATTEMPTS", "4")
	t.Setenv("MOPSCRAWL_LOG_OUTPUT", "file, stdout")

	config, err := LoadFromFiles(path)

	require.NoError(t, err)
	assert.True(t, config.Browser.Headless)
	assert.Equal(t, "from-env.xlsx", config.Dataset.Input)
	assert.Equal(t, 4, config.Retry.Entity.MaxAttempts)
	assert.Equal(t, []string{"file", "stdout"}, config.Logging.Output)
}

func TestLoadFromFiles_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad duration", content: "[workflow]\nelement_wait = \"ten seconds\"\n"},
		{name: "negative base delay", content: "[retry.step]\nbase_delay = \"-5s\"\n"},
		{name: "zero attempts", content: "[retry.step]\nmax_attempts = 0\n"},
		{name: "unknown backoff", content: "[retry.entity]\nbackoff = \"fibonacci\"\n"},
		{name: "bad window pattern", content: "[report]\nwindow_pattern = \"ajax_(\"\n"},
		{name: "bad log level", content: "[logging]\nlevel = \"loud\"\n"},
		{name: "ledger without path", content: "[storage.badger]\nenabled = true\npath = \"\"\n"},
		{name: "malformed toml", content: "[session\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFiles(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidate_RejectsNegativeDurations(t *testing.T) {
	config := NewDefaultConfig()
	config.Retry.Step.BaseDelay = "-5s"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Session.EntityPace = "-1ms"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Session.EntityPace = "0s"
	assert.NoError(t, config.Validate())
}

func TestConfig_LogOutputsFollowEnvironment(t *testing.T) {
	config := NewDefaultConfig()
	assert.False(t, config.IsProduction())
	assert.Equal(t, []string{"stdout", "file"}, config.LogOutputs())

	t.Setenv("MOPSCRAWL_ENV", "Production")
	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.True(t, config.IsProduction())
	assert.Equal(t, []string{"file"}, config.LogOutputs())

	config.Logging.Output = []string{"console"}
	assert.Equal(t, []string{"console"}, config.LogOutputs(), "explicit outputs win")
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))

	assert.Error(t, err)
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	config, err := LoadFromFiles()

	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().Session, config.Session)
}

func TestOutcomeID(t *testing.T) {
	assert.Equal(t, "run_x:00007", OutcomeID("run_x", 7))
	assert.Less(t, OutcomeID("run_x", 9), OutcomeID("run_x", 10))
}

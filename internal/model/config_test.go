package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
mail:
  imap_host: imap.example.com
  smtp_host: smtp.example.com
  username: agent@example.com
  password: hunter2
ai:
  api_key: sk-test
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "993", cfg.Mail.IMAPPort)
	assert.Equal(t, "587", cfg.Mail.SMTPPort)
	assert.True(t, cfg.Mail.TLS)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, 1024, cfg.AI.MaxTokens)
	assert.Equal(t, 300, cfg.Agent.PollIntervalSec)
	assert.Equal(t, 10, cfg.Agent.BatchSize)
	assert.Equal(t, 3, cfg.Agent.Concurrency)
	assert.Equal(t, 720, cfg.Agent.ProcessedRetentionHours)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Agent.DBPath)
}

func TestLoadConfigEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_MAIL_PASSWORD", "from-env")
	t.Setenv("TEST_API_KEY", "sk-from-env")
	t.Setenv("TEST_WEBHOOK", "https://hooks.example.com/ops")

	cfg, err := LoadConfig(writeConfig(t, `
mail:
  imap_host: imap.example.com
  smtp_host: smtp.example.com
  username: agent@example.com
  password: ${TEST_MAIL_PASSWORD}
ai:
  api_key: ${TEST_API_KEY}
notify:
  webhooks:
    ops: ${TEST_WEBHOOK}
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Mail.Password)
	assert.Equal(t, "sk-from-env", cfg.AI.APIKey)
	assert.Equal(t, "https://hooks.example.com/ops", cfg.Notify.Webhooks["ops"])
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var cerr *ConfigError
	assert.True(t, errors.As(err, &cerr))
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name: "missing imap host",
			content: `
mail:
  smtp_host: smtp.example.com
  username: a@b.c
  password: x
ai:
  api_key: sk-test
`,
			wantMsg: "imap_host",
		},
		{
			name: "missing api key",
			content: `
mail:
  imap_host: imap.example.com
  smtp_host: smtp.example.com
  username: a@b.c
  password: x
`,
			wantMsg: "api_key",
		},
		{
			name: "unsupported provider",
			content: minimalConfig + `
  provider: cohere
`,
			wantMsg: "provider",
		},
		{
			name: "zero batch size",
			content: minimalConfig + `
agent:
  batch_size: 0
`,
			wantMsg: "batch_size",
		},
		{
			name: "rule without actions",
			content: minimalConfig + `
rules:
  - name: broken
    conditions:
      - field: category
        op: equals
        value: spam
`,
			wantMsg: "action",
		},
		{
			name: "rule with unknown action type",
			content: minimalConfig + `
rules:
  - name: broken
    conditions:
      - field: category
        op: equals
        value: spam
    actions:
      - type: explode
`,
			wantMsg: "explode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Contains(t, cerr.Message, tt.wantMsg)
		})
	}
}

func TestLoadConfigRules(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
rules:
  - name: urgent-notify
    conditions:
      - field: priority
        op: gte
        value: high
    actions:
      - type: notify
        channel: ops
        text: urgent mail arrived
  - name: newsletter-cleanup
    conditions:
      - field: category
        op: equals
        value: newsletter
    actions:
      - type: mark_read
      - type: archive
`))
	require.NoError(t, err)

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "urgent-notify", cfg.Rules[0].Name)
	assert.Equal(t, ActionNotify, cfg.Rules[0].Actions[0].Type)
	assert.Equal(t, "ops", cfg.Rules[0].Actions[0].Channel)
	require.Len(t, cfg.Rules[1].Actions, 2)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND", "value")

	assert.Equal(t, "value", ExpandEnv("${TEST_EXPAND}"))
	assert.Equal(t, "literal", ExpandEnv("literal"))
	assert.Equal(t, "", ExpandEnv("${TEST_UNSET_VAR}"))
}

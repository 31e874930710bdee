package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hearth-ehr/hearth/internal/audit"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, AuditSinkPostgres, cfg.AuditSink)
	require.Equal(t, audit.FailOpen, cfg.AuditPolicy().Reads)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigReadPolicyBlock(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("AUDIT_READ_POLICY", "block")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, audit.FailClosed, cfg.AuditPolicy().Reads)
}

func TestConfigValidate(t *testing.T) {
	base := Config{SessionSecret: "s", AuditSink: AuditSinkPostgres, AuditReadPolicy: "alert", AppEnv: "development"}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing session secret", func(c *Config) { c.SessionSecret = "" }, false},
		{"unknown sink", func(c *Config) { c.AuditSink = "kafka" }, false},
		{"unknown read policy", func(c *Config) { c.AuditReadPolicy = "ignore" }, false},
		{"memory sink in production", func(c *Config) {
			c.AppEnv = "production"
			c.AuditSink = AuditSinkMemory
			c.TokenSecret = "t"
		}, false},
		{"production without token secret", func(c *Config) { c.AppEnv = "production" }, false},
		{"queue sink", func(c *Config) { c.AuditSink = AuditSinkQueue }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestLoggerJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "test"}, &buf)

	logger.Info("hidden")
	logger.Warn("access denied", "module", "billing")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &record))
	require.Equal(t, "access denied", record["msg"])
	require.Equal(t, "billing", record["module"])
	require.Equal(t, "test", record["env"])
	require.Contains(t, record, "source")
}

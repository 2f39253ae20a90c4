package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// unsetForTest clears key for the duration of the test and restores it after.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestDefaults_NeedOnlyASecret(t *testing.T) {
	cfg := Defaults()
	assert.Error(t, cfg.Validate())

	cfg.Auth.Secret = "s3cret"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "local", cfg.Lock.Backend)
}

func TestApplyEnv_OverridesAndParses(t *testing.T) {
	cfg := Defaults()
	err := applyEnv(&cfg, mapLookup(map[string]string{
		EnvStoreDriver:  "mysql",
		EnvStoreDSN:     "app:pw@tcp(db:3306)/roombook",
		EnvStoreTimeout: "2s",
		EnvCORSOrigins:  "https://a.test, https://b.test,",
		EnvRedisDB:      "3",
		EnvNotifyLog:    "false",
		EnvTimezone:     "Asia/Seoul",
		EnvSMTPHost:     "",
		EnvLockBackend:  "redis",
	}))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 3, cfg.Lock.Redis.DB)
	assert.False(t, cfg.Notify.Log)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Empty(t, cfg.Notify.Mail.Host, "empty values keep the default")
}

func TestApplyEnv_ReportsBadValues(t *testing.T) {
	cfg := Defaults()
	err := applyEnv(&cfg, mapLookup(map[string]string{EnvStoreTimeout: "soon"}))
	assert.ErrorContains(t, err, EnvStoreTimeout)

	err = applyEnv(&cfg, mapLookup(map[string]string{EnvSMTPPort: "smtp"}))
	assert.ErrorContains(t, err, EnvSMTPPort)
}

func TestLoad_FileThenEnv(t *testing.T) {
	unsetForTest(t, EnvJWTSecret)
	t.Setenv(EnvHTTPAddr, ":9999")

	path := writeFile(t, "roombook.yaml", `
http:
  addr: ":7000"
store:
  driver: memory
  timeout: 3s
timezone: UTC
auth:
  secret: from-file
notify:
  mail:
    host: smtp.example.test
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr, "environment beats file")
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, "smtp.example.test", cfg.Notify.Mail.Host)
	assert.Equal(t, 587, cfg.Notify.Mail.Port, "unset keys keep defaults")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "roombook.yaml", "stor:\n  driver: memory\n")
	_, err := Load(path, "")
	assert.ErrorContains(t, err, "strict config parse error")
}

func TestLoad_DotEnvFillsUnsetVariables(t *testing.T) {
	unsetForTest(t, EnvJWTSecret)
	unsetForTest(t, EnvStoreDriver)
	t.Cleanup(func() {
		os.Unsetenv(EnvJWTSecret)
		os.Unsetenv(EnvStoreDriver)
	})

	envFile := writeFile(t, ".env", EnvJWTSecret+"=from-dotenv\n"+EnvStoreDriver+"=memory\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.Secret)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	t.Setenv(EnvJWTSecret, "x")
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := Defaults()
	base.Auth.Secret = "x"

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"sqlite without dsn", func(c *Config) { c.Store.DSN = "" }},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"zero timeout", func(c *Config) { c.Store.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

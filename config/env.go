package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvHTTPAddr        = "ROOMBOOK_HTTP_ADDR"
	EnvCORSOrigins     = "ROOMBOOK_CORS_ORIGINS"
	EnvStoreDriver     = "ROOMBOOK_STORE_DRIVER"
	EnvStoreDSN        = "ROOMBOOK_STORE_DSN"
	EnvStoreTimeout    = "ROOMBOOK_STORE_TIMEOUT"
	EnvTimezone        = "ROOMBOOK_TIMEZONE"
	EnvJWTSecret       = "ROOMBOOK_JWT_SECRET"
	EnvJWTIssuer       = "ROOMBOOK_JWT_ISSUER"
	EnvLockBackend     = "ROOMBOOK_LOCK_BACKEND"
	EnvRedisAddr       = "ROOMBOOK_REDIS_ADDR"
	EnvRedisPassword   = "ROOMBOOK_REDIS_PASSWORD"
	EnvRedisDB         = "ROOMBOOK_REDIS_DB"
	EnvLockTTL         = "ROOMBOOK_LOCK_TTL"
	EnvSMTPHost        = "ROOMBOOK_SMTP_HOST"
	EnvSMTPPort        = "ROOMBOOK_SMTP_PORT"
	EnvSMTPUsername    = "ROOMBOOK_SMTP_USERNAME"
	EnvSMTPPassword    = "ROOMBOOK_SMTP_PASSWORD"
	EnvSMTPFrom        = "ROOMBOOK_SMTP_FROM"
	EnvSMTPFromName    = "ROOMBOOK_SMTP_FROM_NAME"
	EnvAMQPURL         = "ROOMBOOK_AMQP_URL"
	EnvAMQPQueue       = "ROOMBOOK_AMQP_QUEUE"
	EnvNotifyQueueSize = "ROOMBOOK_NOTIFY_QUEUE_SIZE"
	EnvNotifyTimeout   = "ROOMBOOK_NOTIFY_TIMEOUT"
	EnvNotifyLog       = "ROOMBOOK_NOTIFY_LOG"
	EnvLogLevel        = "ROOMBOOK_LOG_LEVEL"
	EnvLogFormat       = "ROOMBOOK_LOG_FORMAT"
	EnvRateLimit       = "ROOMBOOK_RATE_LIMIT"
	EnvRateWindow      = "ROOMBOOK_RATE_WINDOW"
	EnvSeedFile        = "ROOMBOOK_SEED_FILE"
)

type lookupFunc func(string) (string, bool)

// envReader collects the first parse error so applyEnv reads straight through.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (r *envReader) stringVar(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) listVar(key string, dst *[]string) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (r *envReader) intVar(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok || v == "" || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (r *envReader) boolVar(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}

func (r *envReader) durationVar(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok || v == "" || r.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	r.stringVar(EnvHTTPAddr, &cfg.HTTP.Addr)
	r.listVar(EnvCORSOrigins, &cfg.HTTP.CORSOrigins)

	r.stringVar(EnvStoreDriver, &cfg.Store.Driver)
	r.stringVar(EnvStoreDSN, &cfg.Store.DSN)
	r.durationVar(EnvStoreTimeout, &cfg.Store.Timeout)
	r.stringVar(EnvTimezone, &cfg.Timezone)

	r.stringVar(EnvJWTSecret, &cfg.Auth.Secret)
	r.stringVar(EnvJWTIssuer, &cfg.Auth.Issuer)

	r.stringVar(EnvLockBackend, &cfg.Lock.Backend)
	r.stringVar(EnvRedisAddr, &cfg.Lock.Redis.Addr)
	r.stringVar(EnvRedisPassword, &cfg.Lock.Redis.Password)
	r.intVar(EnvRedisDB, &cfg.Lock.Redis.DB)
	r.durationVar(EnvLockTTL, &cfg.Lock.Redis.TTL)

	r.stringVar(EnvSMTPHost, &cfg.Notify.Mail.Host)
	r.intVar(EnvSMTPPort, &cfg.Notify.Mail.Port)
	r.stringVar(EnvSMTPUsername, &cfg.Notify.Mail.Username)
	r.stringVar(EnvSMTPPassword, &cfg.Notify.Mail.Password)
	r.stringVar(EnvSMTPFrom, &cfg.Notify.Mail.From)
	r.stringVar(EnvSMTPFromName, &cfg.Notify.Mail.FromName)
	r.stringVar(EnvAMQPURL, &cfg.Notify.AMQP.URL)
	r.stringVar(EnvAMQPQueue, &cfg.Notify.AMQP.Queue)
	r.intVar(EnvNotifyQueueSize, &cfg.Notify.QueueSize)
	r.durationVar(EnvNotifyTimeout, &cfg.Notify.Timeout)
	r.boolVar(EnvNotifyLog, &cfg.Notify.Log)

	r.stringVar(EnvLogLevel, &cfg.Log.Level)
	r.stringVar(EnvLogFormat, &cfg.Log.Format)
	r.intVar(EnvRateLimit, &cfg.RateLimit.Requests)
	r.durationVar(EnvRateWindow, &cfg.RateLimit.Window)
	r.stringVar(EnvSeedFile, &cfg.SeedFile)

	return r.err
}

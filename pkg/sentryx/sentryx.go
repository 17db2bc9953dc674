package sentryx

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/marketplace/config"
)

// Init 初始化 sentry；DSN 为空时不上报，返回的 flush 可直接 defer
func Init(cfg config.SentryConfig, release string) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

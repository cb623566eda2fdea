package server

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"pricewatch/internal/store"
	"pricewatch/internal/watcher"
)

type tickRunner interface {
	RunTick(ctx context.Context, now time.Time) (watcher.TickReport, error)
}

type Server struct {
	Store         *store.Store
	Watcher       tickRunner
	Logger        logger
	AuthSecretKey jwk.Key
}

type logger interface {
	Tracef(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

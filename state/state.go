package state

import (
	"context"
	"log/slog"
	"sync"
)

// Env holds what every component of a node shares. It can be read from any goroutine.
type Env struct {
	LocalCfg
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
	tasks   sync.WaitGroup
}

func NewEnv(parent context.Context, cfg LocalCfg, log *slog.Logger) *Env {
	ctx, cancel := context.WithCancelCause(parent)
	if log == nil {
		log = slog.Default()
	}
	return &Env{
		LocalCfg: cfg,
		Context:  ctx,
		Cancel:   cancel,
		Log:      log,
	}
}

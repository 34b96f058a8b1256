// Package service wires the orchestrator components behind one facade used
// by the transport layer.
package service

import (
	"github.com/draftmill/orchestrator/internal/config"
	"github.com/draftmill/orchestrator/internal/executor"
	"github.com/draftmill/orchestrator/internal/planner"
	store "github.com/draftmill/orchestrator/internal/repository"
)

// Service owns run creation and the read models. Each created run gets one
// background executor goroutine with a watchdog; the service never shares
// an executor between runs.
type Service struct {
	store    store.Store
	planner  *planner.Planner
	executor *executor.Executor
	cfg      *config.Config
}

// New creates a service.
func New(st store.Store, pl *planner.Planner, ex *executor.Executor, cfg *config.Config) *Service {
	return &Service{
		store:    st,
		planner:  pl,
		executor: ex,
		cfg:      cfg,
	}
}

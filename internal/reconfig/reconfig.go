// Package reconfig re-provisions agent subsystems when the configuration
// paths they depend on change.
package reconfig

import (
	"go.uber.org/zap"

	"github.com/Schera-ole/telemetry-agent/internal/config"
)

// Subsystem is a unit of agent state rebuilt from configuration.
type Subsystem struct {
	Name string
	// Paths are the dotted configuration paths the subsystem reads.
	Paths []string
	// Apply rebuilds the subsystem from next. It runs on the agent
	// goroutine.
	Apply func(next *config.Tree)
}

// Engine diffs every incoming tree against the stored one and applies the
// subsystems the change touches. It is confined to the agent goroutine.
type Engine struct {
	store       *config.Store
	subsystems  []Subsystem
	provisioned map[string]bool
	logger      *zap.SugaredLogger
}

// New creates an engine over store. Subsystems are applied in the order
// given.
func New(store *config.Store, logger *zap.SugaredLogger, subsystems ...Subsystem) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		store:       store,
		subsystems:  subsystems,
		provisioned: make(map[string]bool, len(subsystems)),
		logger:      logger,
	}
}

// Apply stores next and rebuilds every subsystem that was never
// provisioned or whose paths changed. It returns the names of the rebuilt
// subsystems.
func (e *Engine) Apply(next *config.Tree) []string {
	_, changes := e.store.Replace(next)

	var applied []string
	for _, s := range e.subsystems {
		if e.provisioned[s.Name] && !changes.Touches(s.Paths...) {
			continue
		}
		s.Apply(next)
		e.provisioned[s.Name] = true
		applied = append(applied, s.Name)
	}
	if len(applied) > 0 {
		e.logger.Infow("configuration applied", "changed", changes.Paths(), "subsystems", applied)
	} else {
		e.logger.Debugw("configuration unchanged")
	}
	return applied
}

// Current returns the last applied tree.
func (e *Engine) Current() *config.Tree {
	return e.store.Current()
}

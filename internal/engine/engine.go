// Package engine holds the associative behavior of the memory graph:
// Hebbian co-activation, the temporal decay worker, and traversal.
// Storage stays in internal/store; engine owns the algorithms and the
// background worker lifecycle.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perchlabs/synapse/internal/store"
)

// Params are the graph tuning knobs. Zero values are replaced with the
// documented defaults by New.
type Params struct {
	// LearningRate is the weight added per co-activation, and the
	// initial weight of an edge created by one.
	LearningRate float64

	// CoactivationWindow bounds how close in time two independent
	// retrievals must be to count as implicitly co-activated.
	CoactivationWindow time.Duration

	// AutoCoactivate enables implicit co-activation of retrievals that
	// land within the window.
	AutoCoactivate bool

	// Symmetric strengthens both directions of each pair instead of
	// only first-seen→second-seen.
	Symmetric bool

	// DecayFactor is the per-hour multiplicative decay base.
	DecayFactor float64

	// DecayInterval is the worker period.
	DecayInterval time.Duration

	// DecayRunTimeout bounds a single pass; rows not reached are picked
	// up next run.
	DecayRunTimeout time.Duration

	// MinEdgeWeight is the pruning floor for edges.
	MinEdgeWeight float64

	// MinNodeScore is the archival floor for nodes.
	MinNodeScore float64
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		LearningRate:       0.1,
		CoactivationWindow: 30 * time.Second,
		DecayFactor:        0.99,
		DecayInterval:      time.Hour,
		DecayRunTimeout:    10 * time.Minute,
		MinEdgeWeight:      0.05,
		MinNodeScore:       0.1,
	}
}

// Engine runs co-activation, decay, and traversal over a store.
type Engine struct {
	DB     *store.DB
	Params Params

	log    zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}

	// recent retrievals for the implicit co-activation window
	mu     sync.Mutex
	recent []recentAccess
}

type recentAccess struct {
	nodeID string
	at     time.Time
}

// New creates an Engine. Zero-valued params fall back to defaults.
func New(db *store.DB, params Params, log zerolog.Logger) *Engine {
	def := DefaultParams()
	if params.LearningRate <= 0 {
		params.LearningRate = def.LearningRate
	}
	if params.CoactivationWindow <= 0 {
		params.CoactivationWindow = def.CoactivationWindow
	}
	if params.DecayFactor <= 0 || params.DecayFactor > 1 {
		params.DecayFactor = def.DecayFactor
	}
	if params.DecayInterval <= 0 {
		params.DecayInterval = def.DecayInterval
	}
	if params.DecayRunTimeout <= 0 {
		params.DecayRunTimeout = def.DecayRunTimeout
	}
	if params.MinEdgeWeight <= 0 {
		params.MinEdgeWeight = def.MinEdgeWeight
	}
	if params.MinNodeScore <= 0 {
		params.MinNodeScore = def.MinNodeScore
	}

	return &Engine{
		DB:     db,
		Params: params,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// StartDecayWorker runs a decay pass now and then every DecayInterval
// until Stop. Worker failures are logged, never propagated: it is a
// best-effort maintenance loop whose progress is visible via stats.
func (e *Engine) StartDecayWorker() {
	go func() {
		defer close(e.doneCh)

		e.runDecayLogged()

		ticker := time.NewTicker(e.Params.DecayInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runDecayLogged()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the decay worker and waits for the in-flight pass to
// finish. Row updates are individually atomic, so stopping mid-pass
// never leaves a half-applied update.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) runDecayLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), e.Params.DecayRunTimeout)
	defer cancel()

	stats, err := e.RunDecay(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("decay pass failed")
		return
	}
	if stats.EdgesDecayed+stats.EdgesPruned+stats.NodesDecayed+stats.NodesArchived > 0 {
		e.log.Info().
			Int("edges_decayed", stats.EdgesDecayed).
			Int("edges_pruned", stats.EdgesPruned).
			Int("nodes_decayed", stats.NodesDecayed).
			Int("nodes_archived", stats.NodesArchived).
			Int("row_failures", stats.RowFailures).
			Msg("decay pass complete")
	}
}

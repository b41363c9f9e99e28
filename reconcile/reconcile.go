// Package reconcile implements C8: the background reconciliation loops
// that drive syncing contracts to completion, answer outstanding proofs,
// detect order closure, and poll the chain's on-chain challenge state —
// plus the Supervisor that owns their lifetimes, per spec.md §4.8.
package reconcile

import (
	"context"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

var logger = log.New("pkg", "reconcile")

// Worker is one cooperative background task. Run blocks until ctx is
// cancelled or an unrecoverable error occurs.
type Worker interface {
	Run(ctx context.Context) error
	Name() string
}

// ProofDeliverer posts a set of generated proofs back to the customer
// device that raised the challenge — implemented by package wire. Kept as
// an interface here so package reconcile does not depend on wire (which
// depends on dispatch, which depends on contract).
type ProofDeliverer interface {
	DeliverProof(ctx context.Context, contractID types.ContractID, challenge types.Challenge, proofs []*types.Proof) error
}

// restartDelay is how long the Supervisor waits before restarting a
// worker whose Run returned a non-context error.
const restartDelay = 5 * time.Second

// Supervisor starts every registered Worker and restarts one whose Run
// exits with an error that isn't context cancellation, per SPEC_FULL.md
// §4.8 [ADD].
type Supervisor struct {
	workers []Worker
}

// NewSupervisor creates a Supervisor over the four standard loops.
func NewSupervisor(meta *metastore.Store, engine *contract.Engine, deliverer ProofDeliverer) *Supervisor {
	return &Supervisor{
		workers: []Worker{
			&SyncLoop{Meta: meta, Engine: engine},
			&ProofLoop{Meta: meta, Engine: engine, Deliverer: deliverer},
			&ClosureLoop{Meta: meta, Engine: engine},
			&ChainPollLoop{Meta: meta, Engine: engine},
		},
	}
}

// Run starts every worker and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for _, w := range s.workers {
		go s.supervise(ctx, w)
	}
	<-ctx.Done()
}

func (s *Supervisor) supervise(ctx context.Context, w Worker) {
	for {
		err := w.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("worker exited, restarting", "worker", w.Name(), "err", err)
		}
		select {
		case <-time.After(restartDelay):
		case <-ctx.Done():
			return
		}
	}
}

// loopEvery runs fn on every tick of interval until ctx is cancelled,
// logging (not propagating) per-tick errors so one bad contract doesn't
// stop the loop, per spec.md §7's "between loops, errors are logged and
// the loop continues with the next item."
func loopEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Error("reconcile tick failed", "err", err)
			}
		}
	}
}

package node

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/djkazic/wizards-wallet/internal/metrics"
	"github.com/djkazic/wizards-wallet/internal/script"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
)

// InputError locates a failing input. The scripts are set when the
// failure came from script evaluation.
type InputError struct {
	TxID      types.Hash256
	Input     int
	SigScript []byte
	PkScript  []byte
	Err       error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("tx %s input %d: %v", e.TxID, e.Input, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

type inputJob struct {
	tx   *types.Tx
	idx  int
	prev types.TxOut
}

// prevOutputs resolves every non-coinbase input of txs to the output it
// spends: from an earlier tx in the same list, else from the UTXO set.
func prevOutputs(txs []*types.Tx, set *utxo.Set) ([]inputJob, error) {
	created := make(map[types.OutPoint]types.TxOut)
	var jobs []inputJob
	for _, tx := range txs {
		if !tx.IsCoinbase() {
			for i, in := range tx.TxIn {
				prev, ok := created[in.PreviousOutPoint]
				if !ok {
					prev, ok = set.Lookup(in.PreviousOutPoint)
				}
				if !ok {
					return nil, &InputError{TxID: tx.Hash(), Input: i, Err: &utxo.StateConsistencyError{
						Kind:     utxo.SpentOutputNotFound,
						OutPoint: in.PreviousOutPoint,
					}}
				}
				jobs = append(jobs, inputJob{tx: tx, idx: i, prev: prev})
			}
		}
		txid := tx.Hash()
		for i, out := range tx.TxOut {
			created[types.NewOutPoint(txid, uint32(i))] = out.Copy()
		}
	}
	return jobs, nil
}

// validateScripts runs every input script of txs on at most workers
// goroutines. The first failure cancels the rest.
func validateScripts(ctx context.Context, txs []*types.Tx, set *utxo.Set, workers int) error {
	jobs, err := prevOutputs(txs, set)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := script.VerifyInput(job.tx, job.idx, &job.prev); err != nil {
				metrics.ScriptFailures.Inc()
				return &InputError{
					TxID:      job.tx.Hash(),
					Input:     job.idx,
					SigScript: job.tx.TxIn[job.idx].SignatureScript,
					PkScript:  job.prev.PkScript,
					Err:       err,
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// validateBlock runs the structural checks and then the scripts.
func validateBlock(ctx context.Context, b *types.Block, set *utxo.Set, workers int) error {
	if err := b.CheckSanity(); err != nil {
		return err
	}
	return validateScripts(ctx, b.Transactions, set, workers)
}

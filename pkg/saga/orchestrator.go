package saga

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Orchestrator runs transactions step by step and unwinds completed
// steps in reverse order when one fails. One orchestrator serves many
// concurrent transactions; per-transaction state lives in the store.
type Orchestrator struct {
	store      TransactionStore
	dispatcher Dispatcher
}

func NewOrchestrator(store TransactionStore, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{store: store, dispatcher: dispatcher}
}

// CreateTransaction registers a new empty transaction and returns its id.
func (o *Orchestrator) CreateTransaction(ctx context.Context) (string, error) {
	now := time.Now().UnixMilli()
	tx := &Transaction{
		ID:        newID(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Create(ctx, tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

// AddStep appends a step to a pending transaction. Adding to a
// transaction that already started returns ErrInvalidState.
func (o *Orchestrator) AddStep(ctx context.Context, txID, name string, def StepDefinition) error {
	tx, err := o.store.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != StatusPending {
		return fmt.Errorf("%w: cannot add step to %s transaction", ErrInvalidState, tx.Status)
	}
	tx.Steps = append(tx.Steps, StepRecord{
		Name:   name,
		Def:    def,
		Status: StepPending,
	})
	tx.UpdatedAt = time.Now().UnixMilli()
	return o.store.Save(ctx, tx)
}

// Execute runs a pending transaction to completion or unwinds it. A
// failed step is a business outcome reported through the Outcome; the
// error return is reserved for unknown ids, invalid states, and store
// failures.
func (o *Orchestrator) Execute(ctx context.Context, txID string) (*Outcome, error) {
	tx, err := o.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot execute %s transaction", ErrInvalidState, tx.Status)
	}

	tx.Status = StatusInProgress
	tx.UpdatedAt = time.Now().UnixMilli()
	if err := o.store.Save(ctx, tx); err != nil {
		return nil, err
	}

	for i := range tx.Steps {
		step := &tx.Steps[i]
		result, execErr := o.dispatcher.Execute(ctx, step.Def)
		step.ExecutedAt = time.Now().UnixMilli()
		if execErr != nil {
			step.Status = StepFailed
			step.Error = execErr.Error()
			tx.Status = StatusCompensating
			tx.Error = execErr.Error()
			tx.UpdatedAt = time.Now().UnixMilli()
			if err := o.store.Save(ctx, tx); err != nil {
				return nil, err
			}
			comp := o.compensate(ctx, tx, i)
			tx.Status = StatusCompensated
			now := time.Now().UnixMilli()
			tx.UpdatedAt = now
			tx.CompletedAt = now
			if err := o.store.Save(ctx, tx); err != nil {
				return nil, err
			}
			return &Outcome{
				TransactionID: tx.ID,
				Status:        tx.Status,
				FailedStep:    step.Name,
				Error:         execErr.Error(),
				Compensation:  comp,
			}, nil
		}
		step.Status = StepCompleted
		step.Result = result
		tx.UpdatedAt = time.Now().UnixMilli()
		// 每步落盘，GetStatus 能看到进度
		if err := o.store.Save(ctx, tx); err != nil {
			return nil, err
		}
	}

	tx.Status = StatusCompleted
	now := time.Now().UnixMilli()
	tx.UpdatedAt = now
	tx.CompletedAt = now
	if err := o.store.Save(ctx, tx); err != nil {
		return nil, err
	}
	return &Outcome{TransactionID: tx.ID, Status: tx.Status, Steps: stepOutcomes(tx)}, nil
}

// stepOutcomes 按执行顺序汇总每步的最终状态与结果。
func stepOutcomes(tx *Transaction) []StepOutcome {
	if len(tx.Steps) == 0 {
		return nil
	}
	out := make([]StepOutcome, len(tx.Steps))
	for i, step := range tx.Steps {
		out[i] = StepOutcome{Step: step.Name, Status: step.Status, Result: step.Result}
	}
	return out
}

// compensate unwinds completed steps before index failed, in reverse
// order. A failing compensation is recorded and the pass continues; the
// step keeps its COMPLETED status with the error attached so operators
// can see what still holds external state.
func (o *Orchestrator) compensate(ctx context.Context, tx *Transaction, failed int) []CompensationResult {
	var results []CompensationResult
	for j := failed - 1; j >= 0; j-- {
		step := &tx.Steps[j]
		if step.Status != StepCompleted {
			continue
		}
		if err := o.dispatcher.Compensate(ctx, step.Def, step.Result); err != nil {
			cerr := &CompensationError{TransactionID: tx.ID, Step: step.Name, Err: err}
			step.Error = cerr.Error()
			results = append(results, CompensationResult{
				Step:   step.Name,
				Status: "COMPENSATION_FAILED",
				Error:  cerr.Error(),
			})
			continue
		}
		step.Status = StepCompensated
		results = append(results, CompensationResult{
			Step:   step.Name,
			Status: "COMPENSATED",
		})
	}
	return results
}

// GetStatus returns a snapshot of the transaction.
func (o *Orchestrator) GetStatus(ctx context.Context, txID string) (*Transaction, error) {
	return o.store.Get(ctx, txID)
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a saga transaction.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	// StatusFailed is reserved for transactions whose compensation pass
	// could not be attempted at all. The orchestrator currently always
	// finishes the pass, so it never assigns this value.
	StatusFailed Status = "FAILED"
)

// StepStatus represents the state of a single step within a transaction.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

var (
	ErrTransactionNotFound = errors.New("saga: transaction not found")
	ErrInvalidState        = errors.New("saga: invalid transaction state")
)

// StepDefinition is a serializable description of a unit of work. The
// orchestrator never inspects Params; it hands the definition to the
// Dispatcher, which knows how to act on each Kind.
type StepDefinition struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// StepRecord is the persisted execution state of one step.
type StepRecord struct {
	Name       string          `json:"name"`
	Def        StepDefinition  `json:"def"`
	Status     StepStatus      `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt int64           `json:"executedAt,omitempty"`
}

// Transaction is the persisted record of a saga execution.
// Timestamps are Unix milliseconds.
type Transaction struct {
	ID        string       `json:"id"`
	Status    Status       `json:"status"`
	Steps     []StepRecord `json:"steps"`
	Error     string       `json:"error,omitempty"`
	CreatedAt int64        `json:"createdAt"`
	UpdatedAt int64        `json:"updatedAt"`
	// CompletedAt 只在事务到达终态（COMPLETED / COMPENSATED）时写入，
	// 未结束的事务为 0。UpdatedAt 每次落盘都会变，两者不是一回事。
	CompletedAt int64 `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers can hand transactions across
// goroutine boundaries without sharing the steps slice.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.Steps = make([]StepRecord, len(t.Steps))
	copy(cp.Steps, t.Steps)
	for i := range cp.Steps {
		if r := t.Steps[i].Result; r != nil {
			cp.Steps[i].Result = append(json.RawMessage(nil), r...)
		}
		if p := t.Steps[i].Def.Params; p != nil {
			cp.Steps[i].Def.Params = append(json.RawMessage(nil), p...)
		}
	}
	return &cp
}

// TransactionStore persists saga transactions.
type TransactionStore interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Save(ctx context.Context, tx *Transaction) error
}

// Dispatcher interprets step definitions. Execute returns an opaque
// result that is stored on the step record and handed back to
// Compensate if the transaction later unwinds.
type Dispatcher interface {
	Execute(ctx context.Context, def StepDefinition) (json.RawMessage, error)
	Compensate(ctx context.Context, def StepDefinition, result json.RawMessage) error
}

// CompensationError reports a compensating action that did not succeed.
// It never aborts the compensation pass; the orchestrator records it and
// keeps unwinding.
type CompensationError struct {
	TransactionID string
	Step          string
	Err           error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga: compensation failed for step %s in transaction %s: %v", e.Step, e.TransactionID, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// CompensationResult is the per-step outcome of a compensation pass.
type CompensationResult struct {
	Step   string `json:"step"`
	Status string `json:"status"` // COMPENSATED or COMPENSATION_FAILED
	Error  string `json:"error,omitempty"`
}

// StepOutcome is the final state of one step as reported on a
// successful transaction.
type StepOutcome struct {
	Step   string          `json:"step"`
	Status StepStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Outcome is what Execute returns for a finished transaction. Business
// failures live here, not in the error return. Steps is populated in
// execution order on success; an unwound transaction reports FailedStep
// and the compensation pass instead.
type Outcome struct {
	TransactionID string               `json:"transactionId"`
	Status        Status               `json:"status"`
	Steps         []StepOutcome        `json:"steps,omitempty"`
	FailedStep    string               `json:"failedStep,omitempty"`
	Error         string               `json:"error,omitempty"`
	Compensation  []CompensationResult `json:"compensation,omitempty"`
}

// Completed reports whether every step ran to the end.
func (o *Outcome) Completed() bool { return o.Status == StatusCompleted }

// CompensationFailures returns the results whose compensating action failed.
func (o *Outcome) CompensationFailures() []CompensationResult {
	var out []CompensationResult
	for _, r := range o.Compensation {
		if r.Status == "COMPENSATION_FAILED" {
			out = append(out, r)
		}
	}
	return out
}

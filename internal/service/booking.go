package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plazmica10/fitness-center/internal/client"
	"github.com/plazmica10/fitness-center/internal/events"
	"github.com/plazmica10/fitness-center/internal/metrics"
	"github.com/plazmica10/fitness-center/internal/repository"
	"github.com/plazmica10/fitness-center/pkg/audit"
	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
	"github.com/plazmica10/fitness-center/pkg/logger"
	"github.com/plazmica10/fitness-center/pkg/saga"
	"github.com/plazmica10/fitness-center/pkg/snowflake"
	"github.com/plazmica10/fitness-center/pkg/tracing"
	"github.com/plazmica10/fitness-center/pkg/validate"
)

// 预约事务的步骤类型
const (
	StepValidateClass    = "validate_class"
	StepDeductBalance    = "deduct_balance"
	StepCreatePayment    = "create_payment"
	StepCreateAttendance = "create_attendance"
)

// 预约结果状态
const (
	BookingSuccess = "success"
	BookingFailed  = "failed"
)

// PaymentStore 支付写入与补偿删除
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *repository.Payment) error
	DeletePayment(ctx context.Context, id string) error
}

// AttendanceStore 出席写入与补偿删除
type AttendanceStore interface {
	AttendanceCounter
	CreateAttendance(ctx context.Context, a *repository.Attendance) error
	DeleteAttendance(ctx context.Context, id string) error
}

// Ledger 会员余额账本
type Ledger interface {
	Deduct(ctx context.Context, memberID string, amountCents int64) (*client.BalanceResponse, error)
	Refund(ctx context.Context, memberID string, amountCents int64) (*client.BalanceResponse, error)
}

type validateClassParams struct {
	MemberID string `json:"memberId"`
	ClassID  string `json:"classId"`
}

type deductBalanceParams struct {
	MemberID    string `json:"memberId"`
	AmountCents int64  `json:"amountCents"`
}

type createPaymentParams struct {
	PaymentID     string `json:"paymentId"`
	MemberID      string `json:"memberId"`
	ClassID       string `json:"classId"`
	AmountCents   int64  `json:"amountCents"`
	TransactionID string `json:"transactionId"`
}

type createAttendanceParams struct {
	AttendanceID  string `json:"attendanceId"`
	MemberID      string `json:"memberId"`
	ClassID       string `json:"classId"`
	TransactionID string `json:"transactionId"`
}

// BookingRequest 预约请求。AmountCents 为 0 时取课程标价。
type BookingRequest struct {
	MemberID    string `json:"memberId"`
	ClassID     string `json:"classId"`
	AmountCents int64  `json:"amountCents"`
}

// BookingResult 预约的业务结果。失败也是正常返回，不走 error。
type BookingResult struct {
	TransactionID      string                    `json:"transactionId"`
	Status             string                    `json:"status"`
	PaymentID          string                    `json:"paymentId,omitempty"`
	AttendanceID       string                    `json:"attendanceId,omitempty"`
	Error              string                    `json:"error,omitempty"`
	CompensationErrors []saga.CompensationResult `json:"compensationErrors,omitempty"`
}

// BookingService 预约工作流。实现 saga.Dispatcher，把步骤定义翻译成
// 对账本与记录存储的调用。
type BookingService struct {
	orchestrator *saga.Orchestrator
	store        *saga.MemoryStore
	validator    *AvailabilityValidator
	payments     PaymentStore
	attendances  AttendanceStore
	ledger       Ledger
	publisher    *events.Publisher
	audit        audit.Logger
	ids          *snowflake.Generator
	log          *logger.Logger
	metrics      *metrics.Metrics
}

// BookingOptions 可选依赖，留空则跳过对应动作。
type BookingOptions struct {
	Publisher *events.Publisher
	Audit     audit.Logger
	IDs       *snowflake.Generator
	Metrics   *metrics.Metrics
}

func NewBookingService(
	validator *AvailabilityValidator,
	payments PaymentStore,
	attendances AttendanceStore,
	ledger Ledger,
	log *logger.Logger,
	opts BookingOptions,
) *BookingService {
	s := &BookingService{
		store:       saga.NewMemoryStore(),
		validator:   validator,
		payments:    payments,
		attendances: attendances,
		ledger:      ledger,
		publisher:   opts.Publisher,
		audit:       opts.Audit,
		ids:         opts.IDs,
		log:         log,
		metrics:     opts.Metrics,
	}
	s.orchestrator = saga.NewOrchestrator(s.store, s)
	return s
}

// BookClass 执行完整预约流程。前置校验失败直接返回 error（无事务产生）；
// 事务一旦启动，成功与回滚都落在 BookingResult 里。
func (s *BookingService) BookClass(ctx context.Context, req *BookingRequest) (*BookingResult, error) {
	started := time.Now()

	v := validate.New().
		Required("memberId", req.MemberID).
		UUID("classId", req.ClassID)
	if req.AmountCents < 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "invalid amount: %d (must be >= 0 cents)", req.AmountCents)
	}
	if v.HasErrors() {
		first := v.FirstError()
		return nil, apperrors.New(first.Code, first.Message)
	}

	// 前置校验只做一次读；容量检查与后续插入之间存在窗口，
	// 并发预约可能超卖（见 validate_class 步骤的二次校验）。
	cls, err := s.validator.CheckClassExists(ctx, req.ClassID)
	if err != nil {
		s.rejected("class_not_found")
		return nil, err
	}
	if cls.Status == repository.ClassCancelled {
		s.rejected("class_cancelled")
		return nil, apperrors.Newf(apperrors.CodeClassNotFound, "class %s is cancelled", req.ClassID)
	}
	now := time.Now().UnixMilli()
	if cls.EndTimeMs <= now {
		s.rejected("class_ended")
		return nil, apperrors.Newf(apperrors.CodeClassEnded, "class %s already ended", req.ClassID)
	}

	amount := req.AmountCents
	if amount == 0 {
		amount = cls.PriceCents
	}
	if err := validate.AmountCents(amount); err != nil {
		s.rejected("invalid_amount")
		return nil, err
	}

	if err := s.validator.CheckNotDuplicateBooking(ctx, req.ClassID, req.MemberID); err != nil {
		s.rejected("duplicate")
		return nil, err
	}
	capacity, err := s.validator.capacityOf(ctx, cls)
	if err != nil {
		return nil, err
	}
	if capacity.Full() {
		s.rejected("class_full")
		return nil, apperrors.Newf(apperrors.CodeClassFull, "class %s is full (%d/%d)", req.ClassID, capacity.CurrentCount, capacity.Capacity)
	}

	txID, err := s.orchestrator.CreateTransaction(ctx)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "create transaction: %v", err)
	}
	tracing.AddEvent(ctx, "booking.transaction.created")

	// 补偿要按 id 删除，所以 id 在步骤参数里先生成好
	paymentID := uuid.NewString()
	attendanceID := uuid.NewString()

	steps := []struct {
		name   string
		kind   string
		params interface{}
	}{
		{StepValidateClass, StepValidateClass, &validateClassParams{MemberID: req.MemberID, ClassID: req.ClassID}},
		{StepDeductBalance, StepDeductBalance, &deductBalanceParams{MemberID: req.MemberID, AmountCents: amount}},
		{StepCreatePayment, StepCreatePayment, &createPaymentParams{
			PaymentID: paymentID, MemberID: req.MemberID, ClassID: req.ClassID,
			AmountCents: amount, TransactionID: txID,
		}},
		{StepCreateAttendance, StepCreateAttendance, &createAttendanceParams{
			AttendanceID: attendanceID, MemberID: req.MemberID, ClassID: req.ClassID,
			TransactionID: txID,
		}},
	}
	for _, step := range steps {
		params, err := json.Marshal(step.params)
		if err != nil {
			return nil, apperrors.Newf(apperrors.CodeInternal, "marshal step params: %v", err)
		}
		if err := s.orchestrator.AddStep(ctx, txID, step.name, saga.StepDefinition{Kind: step.kind, Params: params}); err != nil {
			return nil, apperrors.Newf(apperrors.CodeInternal, "add step %s: %v", step.name, err)
		}
	}

	outcome, err := s.orchestrator.Execute(ctx, txID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "execute transaction: %v", err)
	}

	result := &BookingResult{TransactionID: txID}
	if outcome.Completed() {
		result.Status = BookingSuccess
		result.PaymentID = paymentID
		result.AttendanceID = attendanceID
	} else {
		result.Status = BookingFailed
		result.Error = outcome.Error
		result.CompensationErrors = outcome.CompensationFailures()
	}

	s.observe(ctx, req, amount, outcome, result, time.Since(started))
	return result, nil
}

// GetBookingStatus 查询事务快照
func (s *BookingService) GetBookingStatus(ctx context.Context, txID string) (*saga.Transaction, error) {
	tx, err := s.orchestrator.GetStatus(ctx, txID)
	if errors.Is(err, saga.ErrTransactionNotFound) {
		return nil, apperrors.Newf(apperrors.CodeTransactionNotFound, "transaction %s not found", txID)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "load transaction: %v", err)
	}
	return tx, nil
}

// Execute 实现 saga.Dispatcher
func (s *BookingService) Execute(ctx context.Context, def saga.StepDefinition) (json.RawMessage, error) {
	switch def.Kind {
	case StepValidateClass:
		var p validateClassParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		return s.executeValidateClass(ctx, &p)
	case StepDeductBalance:
		var p deductBalanceParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		return s.executeDeductBalance(ctx, &p)
	case StepCreatePayment:
		var p createPaymentParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		return s.executeCreatePayment(ctx, &p)
	case StepCreateAttendance:
		var p createAttendanceParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		return s.executeCreateAttendance(ctx, &p)
	default:
		return nil, fmt.Errorf("unknown step kind %q", def.Kind)
	}
}

// Compensate 实现 saga.Dispatcher。validate_class 是只读步骤，无需回滚。
func (s *BookingService) Compensate(ctx context.Context, def saga.StepDefinition, result json.RawMessage) error {
	switch def.Kind {
	case StepValidateClass:
		return nil
	case StepDeductBalance:
		var p deductBalanceParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		if _, err := s.ledger.Refund(ctx, p.MemberID, p.AmountCents); err != nil {
			return fmt.Errorf("refund %d cents to %s: %w", p.AmountCents, p.MemberID, err)
		}
		return nil
	case StepCreatePayment:
		var p createPaymentParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		if err := s.payments.DeletePayment(ctx, p.PaymentID); err != nil {
			return fmt.Errorf("delete payment %s: %w", p.PaymentID, err)
		}
		return nil
	case StepCreateAttendance:
		var p createAttendanceParams
		if err := json.Unmarshal(def.Params, &p); err != nil {
			return fmt.Errorf("decode %s params: %w", def.Kind, err)
		}
		if err := s.attendances.DeleteAttendance(ctx, p.AttendanceID); err != nil {
			return fmt.Errorf("delete attendance %s: %w", p.AttendanceID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", def.Kind)
	}
}

func (s *BookingService) executeValidateClass(ctx context.Context, p *validateClassParams) (json.RawMessage, error) {
	cls, err := s.validator.CheckClassExists(ctx, p.ClassID)
	if err != nil {
		return nil, err
	}
	if cls.EndTimeMs <= time.Now().UnixMilli() {
		return nil, apperrors.Newf(apperrors.CodeClassEnded, "class %s already ended", p.ClassID)
	}
	capacity, err := s.validator.capacityOf(ctx, cls)
	if err != nil {
		return nil, err
	}
	if capacity.Full() {
		return nil, apperrors.Newf(apperrors.CodeClassFull, "class %s is full (%d/%d)", p.ClassID, capacity.CurrentCount, capacity.Capacity)
	}
	return json.Marshal(capacity)
}

func (s *BookingService) executeDeductBalance(ctx context.Context, p *deductBalanceParams) (json.RawMessage, error) {
	balance, err := s.ledger.Deduct(ctx, p.MemberID, p.AmountCents)
	if err != nil {
		return nil, mapLedgerError(err, p.MemberID)
	}
	return json.Marshal(map[string]interface{}{
		"memberId":     p.MemberID,
		"amountCents":  p.AmountCents,
		"balanceCents": balance.BalanceCents,
	})
}

func (s *BookingService) executeCreatePayment(ctx context.Context, p *createPaymentParams) (json.RawMessage, error) {
	payment := &repository.Payment{
		ID:            p.PaymentID,
		MemberID:      p.MemberID,
		ClassID:       p.ClassID,
		AmountCents:   p.AmountCents,
		Status:        repository.PaymentCompleted,
		TransactionID: p.TransactionID,
		CreatedAtMs:   time.Now().UnixMilli(),
	}
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "create payment: %v", err)
	}
	return json.Marshal(map[string]string{"paymentId": p.PaymentID})
}

func (s *BookingService) executeCreateAttendance(ctx context.Context, p *createAttendanceParams) (json.RawMessage, error) {
	now := time.Now().UnixMilli()
	attendance := &repository.Attendance{
		ID:            p.AttendanceID,
		MemberID:      p.MemberID,
		ClassID:       p.ClassID,
		Status:        repository.AttendanceConfirmed,
		TransactionID: p.TransactionID,
		CreatedAtMs:   now,
		UpdatedAtMs:   now,
	}
	if err := s.attendances.CreateAttendance(ctx, attendance); err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "create attendance: %v", err)
	}
	return json.Marshal(map[string]string{"attendanceId": p.AttendanceID})
}

func mapLedgerError(err error, memberID string) error {
	switch {
	case errors.Is(err, client.ErrInsufficientBalance):
		return apperrors.Newf(apperrors.CodeInsufficientBalance, "member %s has insufficient balance", memberID)
	case errors.Is(err, client.ErrMemberNotFound):
		return apperrors.Newf(apperrors.CodeMemberNotFound, "member %s not found", memberID)
	default:
		return apperrors.Newf(apperrors.CodeLedgerUnavailable, "ledger call failed: %v", err)
	}
}

// observe 记录指标、事件与审计，都不影响预约结果。
// amount 是实际扣费金额，请求省略金额时已回落到课程价格。
func (s *BookingService) observe(ctx context.Context, req *BookingRequest, amount int64, outcome *saga.Outcome, result *BookingResult, elapsed time.Duration) {
	fields := map[string]interface{}{
		"transactionId": result.TransactionID,
		"memberId":      req.MemberID,
		"classId":       req.ClassID,
		"status":        result.Status,
	}
	if result.Status == BookingSuccess {
		s.log.WithContext(ctx).Infof("booking completed", fields)
	} else {
		fields["failedStep"] = outcome.FailedStep
		fields["error"] = outcome.Error
		s.log.WithContext(ctx).Warnf("booking compensated", fields)
	}

	if s.metrics != nil {
		s.metrics.IncBooking(result.Status)
		s.metrics.ObserveBookingLatency(elapsed)
		if outcome.FailedStep != "" {
			s.metrics.IncSagaStepFailure(outcome.FailedStep)
		}
		for _, c := range outcome.Compensation {
			if c.Status == "COMPENSATION_FAILED" {
				s.metrics.IncCompensationFailure(c.Step)
			} else {
				s.metrics.IncCompensation(c.Step)
			}
		}
		s.metrics.SetOpenTransactions(s.store.Len())
	}

	if s.publisher != nil {
		event := &events.BookingEvent{
			TransactionID: result.TransactionID,
			MemberID:      req.MemberID,
			ClassID:       req.ClassID,
		}
		if result.Status == BookingSuccess {
			event.Type = events.TypeBookingCompleted
			event.PaymentID = result.PaymentID
			event.AttendanceID = result.AttendanceID
			event.AmountCents = amount
		} else {
			event.Type = events.TypeBookingCompensated
			event.FailedStep = outcome.FailedStep
			event.Error = outcome.Error
		}
		s.publisher.Publish(ctx, event)
	}

	if s.audit != nil && s.ids != nil {
		eventType := audit.EventBookingCompleted
		if result.Status != BookingSuccess {
			eventType = audit.EventBookingCompensated
		}
		entry := audit.NewLog(eventType, req.MemberID).
			WithResource("booking", result.TransactionID).
			WithParams(map[string]interface{}{"classId": req.ClassID, "amountCents": amount}).
			WithResult(result.Status == BookingSuccess, result.Error)
		entry.ID = s.ids.MustGenerate()
		if err := s.audit.Log(ctx, entry); err != nil {
			s.log.WithContext(ctx).WithError(err).Errorf("write audit log", nil)
		}
	}
}

func (s *BookingService) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.IncBooking("rejected_" + reason)
	}
}

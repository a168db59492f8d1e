package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/plazmica10/fitness-center/internal/client"
	"github.com/plazmica10/fitness-center/internal/events"
	"github.com/plazmica10/fitness-center/internal/metrics"
	"github.com/plazmica10/fitness-center/internal/repository"
	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
	"github.com/plazmica10/fitness-center/pkg/logger"
	commonredis "github.com/plazmica10/fitness-center/pkg/redis"
)

const (
	testClassID   = "11111111-1111-1111-1111-111111111111"
	testRoomID    = "22222222-2222-2222-2222-222222222222"
	testTrainerID = "33333333-3333-3333-3333-333333333333"
)

type fakeClassStore struct {
	classes         map[string]*repository.Class
	roomOverlaps    map[string][]string
	trainerOverlaps map[string][]string
}

func newFakeClassStore() *fakeClassStore {
	return &fakeClassStore{
		classes:         make(map[string]*repository.Class),
		roomOverlaps:    make(map[string][]string),
		trainerOverlaps: make(map[string][]string),
	}
}

func (f *fakeClassStore) GetClass(_ context.Context, id string) (*repository.Class, error) {
	c, ok := f.classes[id]
	if !ok {
		return nil, repository.ErrClassNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClassStore) FindRoomOverlaps(_ context.Context, roomID string, _, _ int64) ([]string, error) {
	return f.roomOverlaps[roomID], nil
}

func (f *fakeClassStore) FindTrainerOverlaps(_ context.Context, trainerID string, _, _ int64) ([]string, error) {
	return f.trainerOverlaps[trainerID], nil
}

type fakeAttendanceStore struct {
	rows       map[string]*repository.Attendance
	failCreate bool
	failDelete bool
}

func newFakeAttendanceStore() *fakeAttendanceStore {
	return &fakeAttendanceStore{rows: make(map[string]*repository.Attendance)}
}

func (f *fakeAttendanceStore) CreateAttendance(_ context.Context, a *repository.Attendance) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	cp := *a
	f.rows[a.ID] = &cp
	return nil
}

func (f *fakeAttendanceStore) DeleteAttendance(_ context.Context, id string) error {
	if f.failDelete {
		return errors.New("delete failed")
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeAttendanceStore) CountActive(_ context.Context, classID string) (int, error) {
	n := 0
	for _, a := range f.rows {
		if a.ClassID == classID && a.Status != repository.AttendanceCancelled {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttendanceStore) HasActiveBooking(_ context.Context, memberID, classID string) (bool, error) {
	for _, a := range f.rows {
		if a.MemberID == memberID && a.ClassID == classID && a.Status != repository.AttendanceCancelled {
			return true, nil
		}
	}
	return false, nil
}

type fakePaymentStore struct {
	rows       map[string]*repository.Payment
	failCreate bool
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{rows: make(map[string]*repository.Payment)}
}

func (f *fakePaymentStore) CreatePayment(_ context.Context, p *repository.Payment) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakePaymentStore) DeletePayment(_ context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

type fakeLedger struct {
	balances   map[string]int64
	deductErr  error
	refundErr  error
	deducts    []int64
	refunds    []int64
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{balances: map[string]int64{"m-1": balance}}
}

func (f *fakeLedger) Deduct(_ context.Context, memberID string, amountCents int64) (*client.BalanceResponse, error) {
	if f.deductErr != nil {
		return nil, f.deductErr
	}
	b, ok := f.balances[memberID]
	if !ok {
		return nil, client.ErrMemberNotFound
	}
	if b < amountCents {
		return nil, client.ErrInsufficientBalance
	}
	f.balances[memberID] = b - amountCents
	f.deducts = append(f.deducts, amountCents)
	return &client.BalanceResponse{MemberID: memberID, BalanceCents: f.balances[memberID]}, nil
}

func (f *fakeLedger) Refund(_ context.Context, memberID string, amountCents int64) (*client.BalanceResponse, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.balances[memberID] += amountCents
	f.refunds = append(f.refunds, amountCents)
	return &client.BalanceResponse{MemberID: memberID, BalanceCents: f.balances[memberID]}, nil
}

type bookingFixture struct {
	svc         *BookingService
	classes     *fakeClassStore
	attendances *fakeAttendanceStore
	payments    *fakePaymentStore
	ledger      *fakeLedger
}

func newBookingFixture(balance int64) *bookingFixture {
	classes := newFakeClassStore()
	now := time.Now().UnixMilli()
	classes.classes[testClassID] = &repository.Class{
		ID:          testClassID,
		Title:       "morning yoga",
		RoomID:      testRoomID,
		TrainerID:   testTrainerID,
		Capacity:    10,
		PriceCents:  2000,
		StartTimeMs: now + time.Hour.Milliseconds(),
		EndTimeMs:   now + 2*time.Hour.Milliseconds(),
		Status:      repository.ClassScheduled,
	}
	attendances := newFakeAttendanceStore()
	payments := newFakePaymentStore()
	ledger := newFakeLedger(balance)
	validator := NewAvailabilityValidator(classes, attendances)
	svc := NewBookingService(validator, payments, attendances, ledger,
		logger.New("operations", io.Discard), BookingOptions{})
	return &bookingFixture{
		svc:         svc,
		classes:     classes,
		attendances: attendances,
		payments:    payments,
		ledger:      ledger,
	}
}

func codeOf(t *testing.T, err error) apperrors.Code {
	t.Helper()
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperrors.Error, got %T: %v", err, err)
	}
	return ae.Code
}

func TestBookClassSuccess(t *testing.T) {
	fx := newBookingFixture(5000)

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if result.PaymentID == "" || result.AttendanceID == "" {
		t.Fatalf("ids missing: %+v", result)
	}

	p, ok := fx.payments.rows[result.PaymentID]
	if !ok {
		t.Fatal("payment row missing")
	}
	if p.AmountCents != 2000 {
		t.Errorf("payment amount = %d, want class price 2000", p.AmountCents)
	}
	if p.TransactionID != result.TransactionID {
		t.Errorf("payment transaction id = %s, want %s", p.TransactionID, result.TransactionID)
	}
	a, ok := fx.attendances.rows[result.AttendanceID]
	if !ok {
		t.Fatal("attendance row missing")
	}
	if a.Status != repository.AttendanceConfirmed {
		t.Errorf("attendance status = %s", a.Status)
	}
	if got := fx.ledger.balances["m-1"]; got != 3000 {
		t.Errorf("balance = %d, want 3000", got)
	}
}

func TestBookClassPaymentFailureRefundsAndCleansUp(t *testing.T) {
	fx := newBookingFixture(5000)
	fx.payments.failCreate = true

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(fx.payments.rows) != 0 || len(fx.attendances.rows) != 0 {
		t.Errorf("rows left behind: %d payments, %d attendances", len(fx.payments.rows), len(fx.attendances.rows))
	}
	if got := fx.ledger.balances["m-1"]; got != 5000 {
		t.Errorf("balance = %d, want original 5000 after refund", got)
	}
	if len(fx.ledger.refunds) != 1 || fx.ledger.refunds[0] != 2000 {
		t.Errorf("refunds = %v, want [2000]", fx.ledger.refunds)
	}
	if len(result.CompensationErrors) != 0 {
		t.Errorf("unexpected compensation errors: %v", result.CompensationErrors)
	}
}

func TestBookClassAttendanceFailureRollsBackPayment(t *testing.T) {
	fx := newBookingFixture(5000)
	fx.attendances.failCreate = true

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(fx.payments.rows) != 0 {
		t.Errorf("payment row not compensated")
	}
	if got := fx.ledger.balances["m-1"]; got != 5000 {
		t.Errorf("balance = %d, want 5000", got)
	}
}

func TestBookClassDuplicateRejectedBeforeLedger(t *testing.T) {
	fx := newBookingFixture(5000)
	fx.attendances.rows["existing"] = &repository.Attendance{
		ID: "existing", MemberID: "m-1", ClassID: testClassID,
		Status: repository.AttendanceConfirmed,
	}

	_, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if code := codeOf(t, err); code != apperrors.CodeDuplicateBooking {
		t.Fatalf("code = %s, want DUPLICATE_BOOKING", code)
	}
	if len(fx.ledger.deducts) != 0 {
		t.Error("ledger called for rejected booking")
	}
}

func TestBookClassFullRejectedBeforeLedger(t *testing.T) {
	fx := newBookingFixture(5000)
	fx.classes.classes[testClassID].Capacity = 1
	fx.attendances.rows["other"] = &repository.Attendance{
		ID: "other", MemberID: "m-2", ClassID: testClassID,
		Status: repository.AttendanceConfirmed,
	}

	_, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if code := codeOf(t, err); code != apperrors.CodeClassFull {
		t.Fatalf("code = %s, want CLASS_FULL", code)
	}
	if len(fx.ledger.deducts) != 0 {
		t.Error("ledger called for full class")
	}
}

func TestBookClassCancelledAttendanceDoesNotBlockRebooking(t *testing.T) {
	fx := newBookingFixture(5000)
	fx.attendances.rows["old"] = &repository.Attendance{
		ID: "old", MemberID: "m-1", ClassID: testClassID,
		Status: repository.AttendanceCancelled,
	}

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
}

func TestBookClassInsufficientBalanceFailsWithoutRefund(t *testing.T) {
	fx := newBookingFixture(500)

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, string(apperrors.CodeInsufficientBalance)) {
		t.Errorf("error = %q, want insufficient balance", result.Error)
	}
	// 扣款没成功，不应退款
	if len(fx.ledger.refunds) != 0 {
		t.Errorf("refunds = %v, want none", fx.ledger.refunds)
	}
	if len(fx.payments.rows) != 0 || len(fx.attendances.rows) != 0 {
		t.Error("rows created despite failed deduction")
	}
}

func TestBookClassCompensationFailureSurfaced(t *testing.T) {
	fx := newBookingFixture(5000)
	fx.payments.failCreate = true
	fx.ledger.refundErr = errors.New("ledger down")

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(result.CompensationErrors) != 1 {
		t.Fatalf("compensation errors = %v, want exactly one", result.CompensationErrors)
	}
	ce := result.CompensationErrors[0]
	if ce.Step != StepDeductBalance || ce.Status != "COMPENSATION_FAILED" {
		t.Errorf("compensation result = %+v", ce)
	}
	// 退款没成功，余额仍是扣款后的值，等待人工对账
	if got := fx.ledger.balances["m-1"]; got != 3000 {
		t.Errorf("balance = %d, want 3000", got)
	}
}

func TestBookClassEndedRejected(t *testing.T) {
	fx := newBookingFixture(5000)
	now := time.Now().UnixMilli()
	fx.classes.classes[testClassID].StartTimeMs = now - 2*time.Hour.Milliseconds()
	fx.classes.classes[testClassID].EndTimeMs = now - time.Hour.Milliseconds()

	_, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if code := codeOf(t, err); code != apperrors.CodeClassEnded {
		t.Fatalf("code = %s, want CLASS_ENDED", code)
	}
}

func TestBookClassUnknownClassRejected(t *testing.T) {
	fx := newBookingFixture(5000)

	_, err := fx.svc.BookClass(context.Background(), &BookingRequest{
		MemberID: "m-1",
		ClassID:  "99999999-9999-9999-9999-999999999999",
	})
	if code := codeOf(t, err); code != apperrors.CodeClassNotFound {
		t.Fatalf("code = %s, want CLASS_NOT_FOUND", code)
	}
}

func TestBookClassInvalidInputRejected(t *testing.T) {
	fx := newBookingFixture(5000)

	cases := []struct {
		name string
		req  *BookingRequest
	}{
		{"missing member", &BookingRequest{ClassID: testClassID}},
		{"bad class id", &BookingRequest{MemberID: "m-1", ClassID: "not-a-uuid"}},
		{"negative amount", &BookingRequest{MemberID: "m-1", ClassID: testClassID, AmountCents: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.svc.BookClass(context.Background(), tc.req)
			if code := codeOf(t, err); code != apperrors.CodeInvalidParam {
				t.Fatalf("code = %s, want INVALID_PARAM", code)
			}
		})
	}
	if len(fx.ledger.deducts) != 0 {
		t.Error("ledger called for invalid input")
	}
}

func TestGetBookingStatus(t *testing.T) {
	fx := newBookingFixture(5000)

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}

	tx, err := fx.svc.GetBookingStatus(context.Background(), result.TransactionID)
	if err != nil {
		t.Fatalf("GetBookingStatus: %v", err)
	}
	if tx.Status != "COMPLETED" {
		t.Errorf("transaction status = %s", tx.Status)
	}
	if len(tx.Steps) != 4 {
		t.Errorf("steps = %d, want 4", len(tx.Steps))
	}

	_, err = fx.svc.GetBookingStatus(context.Background(), "unknown")
	if code := codeOf(t, err); code != apperrors.CodeTransactionNotFound {
		t.Fatalf("code = %s, want TRANSACTION_NOT_FOUND", code)
	}
}

func TestBookClassDefaultAmountPublishedInEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	fx := newBookingFixture(5000)
	fx.svc.publisher = events.NewPublisher(
		commonredis.NewStreamClient(rdb),
		"fitness:bookings",
		logger.New("operations", io.Discard),
		metrics.New(),
	)

	// 金额省略时扣的是课程价格，事件里也要带这个金额
	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{MemberID: "m-1", ClassID: testClassID})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}

	entries, err := rdb.XRange(context.Background(), "fitness:bookings", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream length = %d, want 1", len(entries))
	}
	var event events.BookingEvent
	if err := json.Unmarshal([]byte(entries[0].Values["data"].(string)), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.AmountCents != 2000 {
		t.Errorf("event amountCents = %d, want class price 2000", event.AmountCents)
	}
	if event.PaymentID != result.PaymentID {
		t.Errorf("event paymentId = %s, want %s", event.PaymentID, result.PaymentID)
	}
}

func TestBookClassExplicitAmountOverridesPrice(t *testing.T) {
	fx := newBookingFixture(5000)

	result, err := fx.svc.BookClass(context.Background(), &BookingRequest{
		MemberID: "m-1", ClassID: testClassID, AmountCents: 1500,
	})
	if err != nil {
		t.Fatalf("BookClass: %v", err)
	}
	if result.Status != BookingSuccess {
		t.Fatalf("status = %s", result.Status)
	}
	if got := fx.ledger.deducts[0]; got != 1500 {
		t.Errorf("deducted = %d, want 1500", got)
	}
}

package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSanitizeParams_SensitiveKeys(t *testing.T) {
	params := map[string]interface{}{
		"password":   "secret123",
		"api_key":    "key123",
		"token":      "tok123",
		"memberName": "john",
	}

	result := SanitizeParams(params)

	if result["password"] != "***" {
		t.Errorf("password should be masked")
	}
	if result["api_key"] != "***" {
		t.Errorf("api_key should be masked")
	}
	if result["token"] != "***" {
		t.Errorf("token should be masked")
	}
	if result["memberName"] != "john" {
		t.Errorf("memberName should not be masked")
	}
}

func TestSanitizeParams_ArrayWithMaps(t *testing.T) {
	params := map[string]interface{}{
		"members": []interface{}{
			map[string]interface{}{
				"name":  "alice",
				"token": "secret1",
			},
			map[string]interface{}{
				"name":  "bob",
				"token": "secret2",
			},
		},
	}

	result := SanitizeParams(params)
	members := result["members"].([]interface{})

	for i, m := range members {
		member := m.(map[string]interface{})
		if member["token"] != "***" {
			t.Errorf("members[%d].token should be masked", i)
		}
		if member["name"] == "***" {
			t.Errorf("members[%d].name should not be masked", i)
		}
	}
}

func TestSanitizeParams_PhoneMasking(t *testing.T) {
	params := map[string]interface{}{
		"phone":  "13812345678",
		"mobile": "13987654321",
		"name":   "test",
	}

	result := SanitizeParams(params)

	if result["phone"] == "13812345678" {
		t.Error("phone should be partially masked")
	}
	if result["name"] != "test" {
		t.Error("name should not be masked")
	}
}

func TestNewLogBuilder(t *testing.T) {
	log := NewLog(EventClassCreated, "").
		WithResource("class", "c-1").
		WithIP("10.0.0.1").
		WithRequestID("req-1").
		WithParams(map[string]interface{}{"title": "Morning Yoga"}).
		WithResult(false, "insert failed")

	if log.EventType != EventClassCreated {
		t.Errorf("event type = %s", log.EventType)
	}
	if log.Resource != "class" || log.ResourceID != "c-1" {
		t.Errorf("resource = %s/%s", log.Resource, log.ResourceID)
	}
	if log.Result != ResultFailed || log.ErrorMsg != "insert failed" {
		t.Errorf("result = %s/%s", log.Result, log.ErrorMsg)
	}
	if log.Timestamp == 0 {
		t.Error("timestamp not set")
	}
	if log.Params != `{"title":"Morning Yoga"}` {
		t.Errorf("params = %s", log.Params)
	}
}

func TestDBLoggerSynchronousInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO fitness_ops.audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	logger, err := NewDBLogger(db, WithSynchronousWrite())
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	entry := NewLog(EventBookingCompleted, "m-1").WithResource("booking", "tx-1")
	entry.ID = 42
	if err := logger.Log(context.Background(), entry); err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDBLoggerQueryByMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	cols := []string{
		"id", "event_type", "member_id", "actor_id", "ip", "user_agent",
		"resource", "resource_id", "action", "params", "result", "error_msg",
		"timestamp", "request_id",
	}
	mock.ExpectQuery("FROM fitness_ops.audit_logs").
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "BOOKING_COMPLETED", "m-1", "", "", "", "booking", "tx-1", "", "{}", "SUCCESS", "", 1700000000000, ""))

	logger, err := NewDBLogger(db, WithSynchronousWrite())
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logs, err := logger.Query(context.Background(), &QueryFilter{MemberID: "m-1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != EventBookingCompleted {
		t.Fatalf("unexpected result: %+v", logs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

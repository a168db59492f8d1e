package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/plazmica10/fitness-center/internal/metrics"
	"github.com/plazmica10/fitness-center/pkg/logger"
	commonredis "github.com/plazmica10/fitness-center/pkg/redis"
)

func TestPublisherWritesEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewPublisher(
		commonredis.NewStreamClient(client),
		"fitness:bookings",
		logger.New("operations", nil),
		metrics.New(),
	)

	p.Publish(context.Background(), &BookingEvent{
		Type:          TypeBookingCompleted,
		TransactionID: "tx-1",
		MemberID:      "m-1",
		ClassID:       "c-1",
		PaymentID:     "p-1",
		AttendanceID:  "a-1",
		AmountCents:   1500,
	})

	entries, err := client.XRange(context.Background(), "fitness:bookings", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream length = %d, want 1", len(entries))
	}

	var event BookingEvent
	if err := json.Unmarshal([]byte(entries[0].Values["data"].(string)), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != TypeBookingCompleted || event.TransactionID != "tx-1" {
		t.Fatalf("event = %+v", event)
	}
	if event.TimestampMs == 0 {
		t.Error("timestamp not set")
	}
}

func TestPublisherSurvivesBrokenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	p := NewPublisher(
		commonredis.NewStreamClient(client),
		"fitness:bookings",
		logger.New("operations", nil),
		nil,
	)

	mr.Close()
	// must not panic or propagate the failure
	p.Publish(context.Background(), &BookingEvent{Type: TypeBookingCompleted, TransactionID: "tx-2"})
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), &BookingEvent{Type: TypeBookingCompleted})
}

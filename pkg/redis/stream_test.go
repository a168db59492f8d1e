package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestNewConsumerDefaultsPendingInterval(t *testing.T) {
	client := NewStreamClient(goredis.NewClient(&goredis.Options{Addr: "localhost:6379"}))
	opts := &ConsumerOptions{BatchSize: 5}

	consumer := NewConsumer(client, "group", "consumer", []string{"stream"}, func(ctx context.Context, msg *Message) error {
		return nil
	}, opts)

	if consumer.opts.PendingCheckInterval != DefaultConsumerOptions.PendingCheckInterval {
		t.Fatalf("PendingCheckInterval = %v, want %v", consumer.opts.PendingCheckInterval, DefaultConsumerOptions.PendingCheckInterval)
	}
	if consumer.opts.BatchSize != 5 {
		t.Fatalf("BatchSize = %d, want 5", consumer.opts.BatchSize)
	}
}

func TestStreamClientPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	sc := NewStreamClient(client).WithMaxLen(100)
	id, err := sc.Publish(context.Background(), "bookings", map[string]string{"bookingId": "b-1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected message id")
	}

	entries, err := client.XRange(context.Background(), "bookings", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream length = %d, want 1", len(entries))
	}
	if entries[0].Values["data"] != `{"bookingId":"b-1"}` {
		t.Fatalf("data = %v", entries[0].Values["data"])
	}
}

func TestStreamClientPublishBadPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	sc := NewStreamClient(client)
	if _, err := sc.Publish(context.Background(), "bookings", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

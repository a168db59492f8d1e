// Package events 预约事件发布与消费
package events

import (
	"context"
	"time"

	"github.com/plazmica10/fitness-center/internal/metrics"
	"github.com/plazmica10/fitness-center/pkg/logger"
	commonredis "github.com/plazmica10/fitness-center/pkg/redis"
	"github.com/plazmica10/fitness-center/pkg/tracing"
)

// 事件类型
const (
	TypeBookingCompleted   = "booking.completed"
	TypeBookingCompensated = "booking.compensated"
)

// BookingEvent 预约事件，发布到 Redis Stream。
type BookingEvent struct {
	Type          string `json:"type"`
	TransactionID string `json:"transactionId"`
	MemberID      string `json:"memberId"`
	ClassID       string `json:"classId"`
	PaymentID     string `json:"paymentId,omitempty"`
	AttendanceID  string `json:"attendanceId,omitempty"`
	AmountCents   int64  `json:"amountCents,omitempty"`
	FailedStep    string `json:"failedStep,omitempty"`
	Error         string `json:"error,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
	TimestampMs   int64  `json:"timestampMs"`
}

// Publisher 发布预约事件。发布失败只记日志，不影响预约主流程。
type Publisher struct {
	stream  string
	client  *commonredis.StreamClient
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewPublisher(client *commonredis.StreamClient, stream string, log *logger.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		stream:  stream,
		client:  client,
		log:     log,
		metrics: m,
	}
}

// Publish 发布事件
func (p *Publisher) Publish(ctx context.Context, event *BookingEvent) {
	if p == nil || p.client == nil || event == nil {
		return
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}
	if event.TraceID == "" {
		event.TraceID = tracing.TraceIDFromContext(ctx)
	}

	if _, err := p.client.Publish(ctx, p.stream, event); err != nil {
		p.log.WithError(err).Errorf("publish booking event failed", map[string]interface{}{
			"type":          event.Type,
			"transactionId": event.TransactionID,
		})
		return
	}
	if p.metrics != nil {
		p.metrics.IncEventPublished(event.Type)
	}
}

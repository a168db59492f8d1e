package events

import (
	"context"
	"encoding/json"

	"github.com/plazmica10/fitness-center/internal/metrics"
	"github.com/plazmica10/fitness-center/pkg/logger"
	commonredis "github.com/plazmica10/fitness-center/pkg/redis"
)

// Notifier 消费预约事件并触发会员通知。当前实现记录结构化日志，
// 真实的推送渠道（邮件/短信）由下游接入。
type Notifier struct {
	consumer *commonredis.Consumer
	log      *logger.Logger
	metrics  *metrics.Metrics
}

func NewNotifier(client *commonredis.StreamClient, stream, group, consumerName string, log *logger.Logger, m *metrics.Metrics) *Notifier {
	n := &Notifier{log: log, metrics: m}
	n.consumer = commonredis.NewConsumer(client, group, consumerName, []string{stream}, n.handle, nil)
	return n
}

// Run 阻塞消费，ctx 取消时退出。
func (n *Notifier) Run(ctx context.Context) error {
	return n.consumer.Start(ctx)
}

func (n *Notifier) handle(ctx context.Context, msg *commonredis.Message) error {
	var event BookingEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// 无法解析的消息直接确认，避免无限重试
		n.log.WithError(err).Errorf("drop malformed booking event", map[string]interface{}{
			"stream": msg.Stream,
			"msgId":  msg.ID,
		})
		return nil
	}

	fields := map[string]interface{}{
		"type":          event.Type,
		"transactionId": event.TransactionID,
		"memberId":      event.MemberID,
		"classId":       event.ClassID,
	}
	switch event.Type {
	case TypeBookingCompleted:
		n.log.Infof("notify member: booking confirmed", fields)
	case TypeBookingCompensated:
		fields["failedStep"] = event.FailedStep
		fields["error"] = event.Error
		n.log.Infof("notify member: booking rolled back", fields)
	default:
		n.log.Warnf("unknown booking event type", fields)
	}

	if n.metrics != nil {
		n.metrics.IncNotification(event.Type)
	}
	return nil
}

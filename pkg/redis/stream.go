// Package redis Redis Streams 封装
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plazmica10/fitness-center/pkg/tracing"
)

// StreamClient Redis Streams 客户端。maxLen > 0 时按近似长度裁剪流。
type StreamClient struct {
	client *redis.Client
	maxLen int64
}

// NewStreamClient 创建客户端
func NewStreamClient(client *redis.Client) *StreamClient {
	return &StreamClient{client: client}
}

// WithMaxLen 设置流的近似最大长度
func (c *StreamClient) WithMaxLen(n int64) *StreamClient {
	c.maxLen = n
	return c
}

// Publish 发布消息到 Stream，消息体 JSON 序列化后放在 data 字段。
func (c *StreamClient) Publish(ctx context.Context, stream string, msg interface{}) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	values := map[string]interface{}{
		"data": string(data),
	}
	tracing.InjectRedisStream(ctx, values)

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: c.maxLen,
		Approx: c.maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return id, nil
}

// Message 消息
type Message struct {
	ID     string
	Stream string
	Data   []byte
}

// Consumer 消费者
type Consumer struct {
	client   *StreamClient
	group    string
	consumer string
	streams  []string
	handler  MessageHandler
	opts     ConsumerOptions
}

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerOptions 消费者选项
type ConsumerOptions struct {
	BatchSize    int           // 每次读取的消息数
	BlockTime    time.Duration // 阻塞等待时间
	MaxRetries   int           // 最大重试次数
	RetryBackoff time.Duration // 重试间隔
	ClaimMinIdle time.Duration // 认领空闲消息的最小时间
	// PendingCheckInterval 周期性处理 pending 的间隔
	PendingCheckInterval time.Duration
}

// DefaultConsumerOptions 默认选项
var DefaultConsumerOptions = ConsumerOptions{
	BatchSize:            10,
	BlockTime:            5 * time.Second,
	MaxRetries:           3,
	RetryBackoff:         time.Second,
	ClaimMinIdle:         30 * time.Second,
	PendingCheckInterval: 30 * time.Second,
}

// NewConsumer 创建消费者，opts 里的零值字段回落到默认值。
func NewConsumer(client *StreamClient, group, consumer string, streams []string, handler MessageHandler, opts *ConsumerOptions) *Consumer {
	o := DefaultConsumerOptions
	if opts != nil {
		if opts.BatchSize > 0 {
			o.BatchSize = opts.BatchSize
		}
		if opts.BlockTime > 0 {
			o.BlockTime = opts.BlockTime
		}
		if opts.MaxRetries > 0 {
			o.MaxRetries = opts.MaxRetries
		}
		if opts.RetryBackoff > 0 {
			o.RetryBackoff = opts.RetryBackoff
		}
		if opts.ClaimMinIdle > 0 {
			o.ClaimMinIdle = opts.ClaimMinIdle
		}
		if opts.PendingCheckInterval > 0 {
			o.PendingCheckInterval = opts.PendingCheckInterval
		}
	}
	return &Consumer{
		client:   client,
		group:    group,
		consumer: consumer,
		streams:  streams,
		handler:  handler,
		opts:     o,
	}
}

// Start 建组、清一遍 pending，然后进入消费循环。阻塞直到 ctx 取消。
func (c *Consumer) Start(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("create group: %w", err)
		}
	}

	if err := c.processPending(ctx); err != nil {
		return fmt.Errorf("process pending: %w", err)
	}

	return c.consume(ctx)
}

// processPending 认领空闲过久的 pending 消息重新处理，超过重试上限的进死信流。
func (c *Consumer) processPending(ctx context.Context) error {
	for _, stream := range c.streams {
		for {
			done, err := c.reclaimBatch(ctx, stream)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
	}
	return nil
}

// reclaimBatch 处理一批 pending，返回该流是否已清空。
func (c *Consumer) reclaimBatch(ctx context.Context, stream string) (bool, error) {
	pending, err := c.client.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  int64(c.opts.BatchSize),
	}).Result()
	if err != nil {
		return false, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return true, nil
	}

	ids := make([]string, 0, len(pending))
	exhausted := make(map[string]int64)
	for _, p := range pending {
		if p.Idle < c.opts.ClaimMinIdle {
			continue
		}
		ids = append(ids, p.ID)
		if c.opts.MaxRetries > 0 && p.RetryCount > int64(c.opts.MaxRetries) {
			exhausted[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return true, nil
	}

	claimed, err := c.client.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.opts.ClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("xclaim: %w", err)
	}

	for _, m := range claimed {
		if retries, over := exhausted[m.ID]; over {
			if err := c.sendToDLQ(ctx, stream, &m, fmt.Sprintf("max retries exceeded: %d", retries)); err != nil {
				fmt.Printf("send to dlq error: %v\n", err)
				continue
			}
			if err := c.client.client.XAck(ctx, stream, c.group, m.ID).Err(); err != nil {
				fmt.Printf("ack dlq message error: %v\n", err)
			}
			continue
		}
		if err := c.processMessage(ctx, stream, m); err != nil {
			fmt.Printf("process pending message error: %v\n", err)
		}
	}
	return false, nil
}

// consume 主循环，周期性顺带清理 pending。
func (c *Consumer) consume(ctx context.Context) error {
	// XREADGROUP 的 streams 参数：先全部流名，再等量的 ">"
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	pendingTicker := time.NewTicker(c.opts.PendingCheckInterval)
	defer pendingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pendingTicker.C:
			if err := c.processPending(ctx); err != nil && ctx.Err() == nil {
				fmt.Printf("process pending error: %v\n", err)
			}
		default:
		}

		results, err := c.client.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    int64(c.opts.BatchSize),
			Block:    c.opts.BlockTime,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, result := range results {
			for _, m := range result.Messages {
				if err := c.processMessage(ctx, result.Stream, m); err != nil {
					fmt.Printf("process message error: %v\n", err)
				}
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, stream string, m redis.XMessage) error {
	data, ok := m.Values["data"].(string)
	if !ok {
		// data 字段缺失的消息没法处理，直接 ACK 丢掉
		return c.client.client.XAck(ctx, stream, c.group, m.ID).Err()
	}

	err := c.handler(ctx, &Message{ID: m.ID, Stream: stream, Data: []byte(data)})
	if err == nil {
		return c.client.client.XAck(ctx, stream, c.group, m.ID).Err()
	}

	// 处理失败：重试次数到顶的转死信并 ACK，否则留在 pending 等下一轮
	if c.opts.MaxRetries > 0 {
		pending, pErr := c.client.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  m.ID,
			End:    m.ID,
			Count:  1,
		}).Result()
		if pErr == nil && len(pending) == 1 && pending[0].RetryCount > int64(c.opts.MaxRetries) {
			if dlqErr := c.sendToDLQ(ctx, stream, &m, err.Error()); dlqErr == nil {
				return c.client.client.XAck(ctx, stream, c.group, m.ID).Err()
			}
		}
	}
	return err
}

func (c *Consumer) sendToDLQ(ctx context.Context, stream string, m *redis.XMessage, reason string) error {
	dlqStream := stream + ":dlq"
	values := map[string]interface{}{
		"stream":   stream,
		"msgId":    m.ID,
		"reason":   reason,
		"data":     m.Values["data"],
		"tsMs":     time.Now().UnixMilli(),
		"group":    c.group,
		"consumer": c.consumer,
	}
	_, err := c.client.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd dlq: %w", err)
	}
	return nil
}

// Ack 手动确认消息
func (c *Consumer) Ack(ctx context.Context, stream, id string) error {
	return c.client.client.XAck(ctx, stream, c.group, id).Err()
}


package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
)

type EventType string

const (
	// 预约
	EventBookingCompleted   EventType = "BOOKING_COMPLETED"
	EventBookingCompensated EventType = "BOOKING_COMPENSATED"

	// 排课管理
	EventClassCreated   EventType = "CLASS_CREATED"
	EventClassUpdated   EventType = "CLASS_UPDATED"
	EventClassCancelled EventType = "CLASS_CANCELLED"

	// 场地与教练
	EventRoomCreated    EventType = "ROOM_CREATED"
	EventTrainerCreated EventType = "TRAINER_CREATED"

	EventAdminAction EventType = "ADMIN_ACTION"
)

type AuditLog struct {
	ID         int64     `json:"id"`
	EventType  EventType `json:"eventType"`
	MemberID   string    `json:"memberId"`
	ActorID    string    `json:"actorId"` // 操作者（管理端操作时）
	IP         string    `json:"ip"`
	UserAgent  string    `json:"userAgent"`
	Resource   string    `json:"resource"`   // 操作的资源类型
	ResourceID string    `json:"resourceId"` // 资源ID
	Action     string    `json:"action"`     // 具体动作
	Params     string    `json:"params"`     // JSON格式的参数（脱敏后）
	Result     string    `json:"result"`     // SUCCESS/FAILED
	ErrorMsg   string    `json:"errorMsg"`
	Timestamp  int64     `json:"timestamp"`
	RequestID  string    `json:"requestId"`
}

type Logger interface {
	Log(ctx context.Context, log *AuditLog) error
	Query(ctx context.Context, filter *QueryFilter) ([]*AuditLog, error)
}

type QueryFilter struct {
	MemberID  string
	EventType EventType
	StartTime int64
	EndTime   int64
	Limit     int
	Offset    int
}

const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// NewLog 创建审计日志。Timestamp 使用 Unix 毫秒。
func NewLog(eventType EventType, memberID string) *AuditLog {
	return &AuditLog{
		EventType: eventType,
		MemberID:  memberID,
		Timestamp: time.Now().UnixMilli(),
		Result:    ResultSuccess,
		Params:    "{}",
	}
}

// WithIP 设置IP。
func (l *AuditLog) WithIP(ip string) *AuditLog {
	if l == nil {
		return nil
	}
	l.IP = ip
	return l
}

// WithResource 设置资源。
func (l *AuditLog) WithResource(resource, resourceID string) *AuditLog {
	if l == nil {
		return nil
	}
	l.Resource = resource
	l.ResourceID = resourceID
	return l
}

// WithRequestID 设置请求ID。
func (l *AuditLog) WithRequestID(requestID string) *AuditLog {
	if l == nil {
		return nil
	}
	l.RequestID = requestID
	return l
}

// WithParams 设置参数（自动脱敏敏感字段）。
func (l *AuditLog) WithParams(params map[string]interface{}) *AuditLog {
	if l == nil {
		return nil
	}
	safe := SanitizeParams(params)
	b, err := json.Marshal(safe)
	if err != nil {
		l.Params = "{}"
		return l
	}
	l.Params = string(b)
	return l
}

// WithResult 设置结果。
func (l *AuditLog) WithResult(success bool, errMsg string) *AuditLog {
	if l == nil {
		return nil
	}
	if success {
		l.Result = ResultSuccess
		l.ErrorMsg = ""
		return l
	}
	l.Result = ResultFailed
	l.ErrorMsg = errMsg
	return l
}

// SanitizeParams 脱敏敏感参数。
func SanitizeParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}

	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = sanitizeValue(k, v)
	}
	return out
}

func sanitizeValue(key string, value interface{}) interface{} {
	if isSensitiveKey(key) {
		return "***"
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		return SanitizeParams(typed)
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for i, item := range typed {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, SanitizeParams(m))
				continue
			}
			// 数组元素不继承父级 key，用索引占位
			out = append(out, sanitizeValue(fmt.Sprintf("[%d]", i), item))
		}
		return out
	case string:
		if looksLikePhone(key, typed) {
			return maskPreserveEnds(typed, 2, 2)
		}
		return typed
	default:
		return value
	}
}

var sensitiveKeyParts = []string{
	"password", "passwd", "pwd", "secret", "token", "apikey", "api_key",
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return k == "key" || strings.HasSuffix(k, "_key")
}

// looksLikePhone key 带 phone/mobile/tel，或值本身基本全是数字且够长。
func looksLikePhone(key, value string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, part := range []string{"phone", "mobile", "tel"} {
		if strings.Contains(k, part) {
			return true
		}
	}

	digits := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return len(value) >= 7 && digits >= len(value)-2
}

func maskPreserveEnds(s string, prefixKeep, suffixKeep int) string {
	runes := []rune(s)
	if prefixKeep < 0 {
		prefixKeep = 0
	}
	if suffixKeep < 0 {
		suffixKeep = 0
	}
	if len(runes) <= prefixKeep+suffixKeep {
		return "***"
	}
	maskedLen := len(runes) - prefixKeep - suffixKeep
	return string(runes[:prefixKeep]) + strings.Repeat("*", maskedLen) + string(runes[len(runes)-suffixKeep:])
}

// DBLogger 使用 PostgreSQL（database/sql）实现审计日志存储，默认异步写入以避免影响主业务流程。
//
// 说明：
// - 表名固定为 fitness_ops.audit_logs（append-only）
// - 应用需自行 import PostgreSQL driver（如 github.com/lib/pq）
type DBLogger struct {
	db *sql.DB

	insertQueue chan *AuditLog
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	onError func(error)
}

type DBLoggerOption func(*dbLoggerOptions)

type dbLoggerOptions struct {
	queueSize  int
	workers    int
	onError    func(error)
	skipWorker bool
}

func WithQueueSize(size int) DBLoggerOption {
	return func(o *dbLoggerOptions) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

func WithWorkers(n int) DBLoggerOption {
	return func(o *dbLoggerOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithErrorHandler(fn func(error)) DBLoggerOption {
	return func(o *dbLoggerOptions) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithSynchronousWrite 让 Log() 直接写数据库（不推荐在主链路使用）。
func WithSynchronousWrite() DBLoggerOption {
	return func(o *dbLoggerOptions) {
		o.skipWorker = true
	}
}

func NewDBLogger(db *sql.DB, opts ...DBLoggerOption) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("audit: db is nil")
	}

	cfg := dbLoggerOptions{
		queueSize: 4096,
		workers:   2,
		onError:   func(error) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	l := &DBLogger{
		db:      db,
		onError: cfg.onError,
	}

	if cfg.skipWorker {
		return l, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.insertQueue = make(chan *AuditLog, cfg.queueSize)

	for i := 0; i < cfg.workers; i++ {
		l.wg.Add(1)
		go l.drain(ctx)
	}

	return l, nil
}

func (l *DBLogger) drain(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-l.insertQueue:
			if item == nil {
				continue
			}
			if err := l.insert(ctx, item); err != nil {
				l.onError(err)
			}
		}
	}
}

// Close 关闭后台写入协程（可选调用）。
func (l *DBLogger) Close() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *DBLogger) Log(ctx context.Context, log *AuditLog) error {
	if l == nil || l.db == nil || log == nil {
		return nil
	}

	// Params 必须是合法 JSON，插入列是 JSONB
	if strings.TrimSpace(log.Params) == "" {
		log.Params = "{}"
	}
	if log.Timestamp == 0 {
		log.Timestamp = time.Now().UnixMilli()
	}

	if l.insertQueue == nil {
		return l.insert(ctx, log)
	}

	// 队列满时丢弃，审计写入不能拖慢预约主链路
	select {
	case l.insertQueue <- log:
	default:
		if l.onError != nil {
			l.onError(errors.New("audit: queue full, log dropped"))
		}
	}
	return nil
}

func (l *DBLogger) Query(ctx context.Context, filter *QueryFilter) ([]*AuditLog, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("audit: db logger not initialized")
	}

	var (
		where  []string
		args   []interface{}
		argIdx = 1
	)
	if filter != nil {
		if filter.MemberID != "" {
			where = append(where, fmt.Sprintf("member_id = $%d", argIdx))
			args = append(args, filter.MemberID)
			argIdx++
		}
		if filter.EventType != "" {
			where = append(where, fmt.Sprintf("event_type = $%d", argIdx))
			args = append(args, filter.EventType)
			argIdx++
		}
		if filter.StartTime != 0 {
			where = append(where, fmt.Sprintf("timestamp >= $%d", argIdx))
			args = append(args, filter.StartTime)
			argIdx++
		}
		if filter.EndTime != 0 {
			where = append(where, fmt.Sprintf("timestamp <= $%d", argIdx))
			args = append(args, filter.EndTime)
			argIdx++
		}
	}

	query := `
SELECT id, event_type, member_id, actor_id, ip, user_agent, resource, resource_id, action, params, result, error_msg, timestamp, request_id
FROM fitness_ops.audit_logs
`
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY timestamp DESC, id DESC\n"

	limit := 100
	offset := 0
	if filter != nil {
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		if filter.Offset > 0 {
			offset = filter.Offset
		}
	}
	query += fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		var item AuditLog
		if err := rows.Scan(
			&item.ID,
			&item.EventType,
			&item.MemberID,
			&item.ActorID,
			&item.IP,
			&item.UserAgent,
			&item.Resource,
			&item.ResourceID,
			&item.Action,
			&item.Params,
			&item.Result,
			&item.ErrorMsg,
			&item.Timestamp,
			&item.RequestID,
		); err != nil {
			return nil, err
		}
		logs = append(logs, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (l *DBLogger) insert(ctx context.Context, log *AuditLog) error {
	const stmt = `
INSERT INTO fitness_ops.audit_logs (
  id, event_type, member_id, actor_id, ip, user_agent, resource, resource_id, action, params, result, error_msg, timestamp, request_id
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
	_, err := l.db.ExecContext(ctx, stmt,
		log.ID,
		log.EventType,
		log.MemberID,
		log.ActorID,
		log.IP,
		log.UserAgent,
		log.Resource,
		log.ResourceID,
		log.Action,
		log.Params,
		log.Result,
		log.ErrorMsg,
		log.Timestamp,
		log.RequestID,
	)
	return err
}

// CreateTableSQL 提供 audit_logs 表结构（可用于初始化/迁移）。
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS fitness_ops.audit_logs (
  id BIGINT PRIMARY KEY,
  event_type VARCHAR(64) NOT NULL,
  member_id VARCHAR(64) NOT NULL DEFAULT '',
  actor_id VARCHAR(64) NOT NULL DEFAULT '',
  ip VARCHAR(64) NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  resource VARCHAR(128) NOT NULL DEFAULT '',
  resource_id VARCHAR(128) NOT NULL DEFAULT '',
  action VARCHAR(128) NOT NULL DEFAULT '',
  params JSONB NOT NULL DEFAULT '{}'::jsonb,
  result VARCHAR(16) NOT NULL DEFAULT 'SUCCESS',
  error_msg TEXT NOT NULL DEFAULT '',
  timestamp BIGINT NOT NULL,
  request_id VARCHAR(128) NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_ts ON fitness_ops.audit_logs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_member_ts ON fitness_ops.audit_logs(member_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_event_ts ON fitness_ops.audit_logs(event_type, timestamp DESC);
`

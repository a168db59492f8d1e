// Package repository 数据访问层
package repository

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrClassNotFound      = errors.New("class not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrTrainerNotFound    = errors.New("trainer not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrAttendanceNotFound = errors.New("attendance not found")
)

// ClassStatus 课程状态
const (
	ClassScheduled = "scheduled"
	ClassCancelled = "cancelled"
)

// Class 课程排期。Capacity <= 0 表示不限容量，金额单位为分，时间为 Unix 毫秒。
type Class struct {
	ID          string
	Title       string
	Description string
	RoomID      string
	TrainerID   string
	Capacity    int
	PriceCents  int64
	StartTimeMs int64
	EndTimeMs   int64
	Status      string
	CreatedAtMs int64
	UpdatedAtMs int64
}

// ClassRepository 课程仓储
type ClassRepository struct {
	db *sql.DB
}

// NewClassRepository 创建仓储
func NewClassRepository(db *sql.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// CreateClass 创建课程
func (r *ClassRepository) CreateClass(ctx context.Context, c *Class) error {
	query := `
		INSERT INTO fitness_ops.classes
		(id, title, description, room_id, trainer_id, capacity, price_cents,
		 start_time_ms, end_time_ms, status, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.Title, nullString(c.Description), c.RoomID, c.TrainerID,
		c.Capacity, c.PriceCents, c.StartTimeMs, c.EndTimeMs, c.Status,
		c.CreatedAtMs, c.UpdatedAtMs,
	)
	return err
}

// GetClass 查询课程
func (r *ClassRepository) GetClass(ctx context.Context, id string) (*Class, error) {
	query := `
		SELECT id, title, COALESCE(description, ''), room_id, trainer_id, capacity,
		       price_cents, start_time_ms, end_time_ms, status, created_at_ms, updated_at_ms
		FROM fitness_ops.classes
		WHERE id = $1
	`
	var c Class
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Title, &c.Description, &c.RoomID, &c.TrainerID, &c.Capacity,
		&c.PriceCents, &c.StartTimeMs, &c.EndTimeMs, &c.Status, &c.CreatedAtMs, &c.UpdatedAtMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClasses 按时间范围查询课程（fromMs/toMs 为 0 时不限）
func (r *ClassRepository) ListClasses(ctx context.Context, fromMs, toMs int64, limit int) ([]*Class, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, title, COALESCE(description, ''), room_id, trainer_id, capacity,
		       price_cents, start_time_ms, end_time_ms, status, created_at_ms, updated_at_ms
		FROM fitness_ops.classes
		WHERE ($1 = 0 OR start_time_ms >= $1)
		  AND ($2 = 0 OR start_time_ms < $2)
		ORDER BY start_time_ms ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, fromMs, toMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []*Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(
			&c.ID, &c.Title, &c.Description, &c.RoomID, &c.TrainerID, &c.Capacity,
			&c.PriceCents, &c.StartTimeMs, &c.EndTimeMs, &c.Status, &c.CreatedAtMs, &c.UpdatedAtMs,
		); err != nil {
			return nil, err
		}
		classes = append(classes, &c)
	}
	return classes, rows.Err()
}

// UpdateClass 更新课程排期字段
func (r *ClassRepository) UpdateClass(ctx context.Context, c *Class) error {
	query := `
		UPDATE fitness_ops.classes
		SET title = $2, description = $3, room_id = $4, trainer_id = $5,
		    capacity = $6, price_cents = $7, start_time_ms = $8, end_time_ms = $9,
		    updated_at_ms = $10
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.Title, nullString(c.Description), c.RoomID, c.TrainerID,
		c.Capacity, c.PriceCents, c.StartTimeMs, c.EndTimeMs, c.UpdatedAtMs,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClassNotFound
	}
	return nil
}

// UpdateClassStatus 更新课程状态
func (r *ClassRepository) UpdateClassStatus(ctx context.Context, id, status string, updatedAtMs int64) error {
	query := `
		UPDATE fitness_ops.classes
		SET status = $2, updated_at_ms = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, updatedAtMs)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClassNotFound
	}
	return nil
}

// FindRoomOverlaps 查询同一场地与 [startMs, endMs) 重叠且未取消的课程
func (r *ClassRepository) FindRoomOverlaps(ctx context.Context, roomID string, startMs, endMs int64) ([]string, error) {
	query := `
		SELECT id FROM fitness_ops.classes
		WHERE room_id = $1 AND status != $2
		  AND start_time_ms < $4 AND end_time_ms > $3
	`
	return r.queryIDs(ctx, query, roomID, ClassCancelled, startMs, endMs)
}

// FindTrainerOverlaps 查询同一教练与 [startMs, endMs) 重叠且未取消的课程
func (r *ClassRepository) FindTrainerOverlaps(ctx context.Context, trainerID string, startMs, endMs int64) ([]string, error) {
	query := `
		SELECT id FROM fitness_ops.classes
		WHERE trainer_id = $1 AND status != $2
		  AND start_time_ms < $4 AND end_time_ms > $3
	`
	return r.queryIDs(ctx, query, trainerID, ClassCancelled, startMs, endMs)
}

func (r *ClassRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

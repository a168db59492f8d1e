package repository

import (
	"context"
	"database/sql"
)

// AttendanceStatus 出席状态
const (
	AttendanceConfirmed  = "confirmed"
	AttendanceCheckedIn  = "checked-in"
	AttendanceCheckedOut = "checked-out"
	AttendanceCancelled  = "cancelled"
)

// Attendance 预约出席记录
type Attendance struct {
	ID            string
	MemberID      string
	ClassID       string
	Status        string
	TransactionID string
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// AttendanceRepository 出席仓储
type AttendanceRepository struct {
	db *sql.DB
}

func NewAttendanceRepository(db *sql.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) CreateAttendance(ctx context.Context, a *Attendance) error {
	query := `
		INSERT INTO fitness_ops.attendances
		(id, member_id, class_id, status, transaction_id, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.MemberID, a.ClassID, a.Status,
		nullString(a.TransactionID), a.CreatedAtMs, a.UpdatedAtMs)
	return err
}

func (r *AttendanceRepository) GetAttendance(ctx context.Context, id string) (*Attendance, error) {
	query := `
		SELECT id, member_id, class_id, status, COALESCE(transaction_id, ''), created_at_ms, updated_at_ms
		FROM fitness_ops.attendances
		WHERE id = $1
	`
	var a Attendance
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.MemberID, &a.ClassID, &a.Status, &a.TransactionID, &a.CreatedAtMs, &a.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return nil, ErrAttendanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAttendance 删除出席记录（补偿动作）。记录不存在时视为已删除。
func (r *AttendanceRepository) DeleteAttendance(ctx context.Context, id string) error {
	query := `DELETE FROM fitness_ops.attendances WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// UpdateAttendanceStatus 更新出席状态（签到/签退/取消）
func (r *AttendanceRepository) UpdateAttendanceStatus(ctx context.Context, id, status string, updatedAtMs int64) error {
	query := `
		UPDATE fitness_ops.attendances
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
		return ErrAttendanceNotFound
	}
	return nil
}

// CountActive 统计课程未取消的出席数（容量校验用）
func (r *AttendanceRepository) CountActive(ctx context.Context, classID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM fitness_ops.attendances
		WHERE class_id = $1 AND status != $2
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, classID, AttendanceCancelled).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// HasActiveBooking 判断会员是否已有该课程未取消的预约
func (r *AttendanceRepository) HasActiveBooking(ctx context.Context, memberID, classID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM fitness_ops.attendances
			WHERE member_id = $1 AND class_id = $2 AND status != $3
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, memberID, classID, AttendanceCancelled).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListAttendancesByClass 查询课程的出席记录
func (r *AttendanceRepository) ListAttendancesByClass(ctx context.Context, classID string, limit int) ([]*Attendance, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, member_id, class_id, status, COALESCE(transaction_id, ''), created_at_ms, updated_at_ms
		FROM fitness_ops.attendances
		WHERE class_id = $1
		ORDER BY created_at_ms ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, classID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendances []*Attendance
	for rows.Next() {
		var a Attendance
		if err := rows.Scan(&a.ID, &a.MemberID, &a.ClassID, &a.Status, &a.TransactionID, &a.CreatedAtMs, &a.UpdatedAtMs); err != nil {
			return nil, err
		}
		attendances = append(attendances, &a)
	}
	return attendances, rows.Err()
}

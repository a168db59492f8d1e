package repository

import (
	"context"
	"database/sql"
)

// PaymentStatus 支付状态
const (
	PaymentCompleted = "completed"
)

// Payment 课程支付记录，金额单位为分。
type Payment struct {
	ID            string
	MemberID      string
	ClassID       string
	AmountCents   int64
	Status        string
	TransactionID string
	CreatedAtMs   int64
}

// PaymentRepository 支付仓储
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO fitness_ops.payments
		(id, member_id, class_id, amount_cents, status, transaction_id, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.MemberID, p.ClassID, p.AmountCents, p.Status,
		nullString(p.TransactionID), p.CreatedAtMs)
	return err
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*Payment, error) {
	query := `
		SELECT id, member_id, class_id, amount_cents, status, COALESCE(transaction_id, ''), created_at_ms
		FROM fitness_ops.payments
		WHERE id = $1
	`
	var p Payment
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.MemberID, &p.ClassID, &p.AmountCents, &p.Status, &p.TransactionID, &p.CreatedAtMs)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePayment 删除支付记录（补偿动作）。记录不存在时视为已删除。
func (r *PaymentRepository) DeletePayment(ctx context.Context, id string) error {
	query := `DELETE FROM fitness_ops.payments WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ListPaymentsByMember 查询会员的支付记录
func (r *PaymentRepository) ListPaymentsByMember(ctx context.Context, memberID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, member_id, class_id, amount_cents, status, COALESCE(transaction_id, ''), created_at_ms
		FROM fitness_ops.payments
		WHERE member_id = $1
		ORDER BY created_at_ms DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.MemberID, &p.ClassID, &p.AmountCents, &p.Status, &p.TransactionID, &p.CreatedAtMs); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

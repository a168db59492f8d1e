package repository

import (
	"context"
	"database/sql"
)

// Trainer 教练。Rating 取值 0..5，0 表示未评分。
type Trainer struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	Specialty   string
	Rating      int
	CreatedAtMs int64
}

// TrainerRepository 教练仓储
type TrainerRepository struct {
	db *sql.DB
}

func NewTrainerRepository(db *sql.DB) *TrainerRepository {
	return &TrainerRepository{db: db}
}

func (r *TrainerRepository) CreateTrainer(ctx context.Context, t *Trainer) error {
	query := `
		INSERT INTO fitness_ops.trainers (id, name, email, phone, specialty, rating, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, nullString(t.Email), nullString(t.Phone), nullString(t.Specialty), t.Rating, t.CreatedAtMs)
	return err
}

func (r *TrainerRepository) GetTrainer(ctx context.Context, id string) (*Trainer, error) {
	query := `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(specialty, ''), rating, created_at_ms
		FROM fitness_ops.trainers
		WHERE id = $1
	`
	var t Trainer
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Email, &t.Phone, &t.Specialty, &t.Rating, &t.CreatedAtMs)
	if err == sql.ErrNoRows {
		return nil, ErrTrainerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TrainerRepository) ListTrainers(ctx context.Context) ([]*Trainer, error) {
	query := `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(specialty, ''), rating, created_at_ms
		FROM fitness_ops.trainers
		ORDER BY name ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trainers []*Trainer
	for rows.Next() {
		var t Trainer
		if err := rows.Scan(&t.ID, &t.Name, &t.Email, &t.Phone, &t.Specialty, &t.Rating, &t.CreatedAtMs); err != nil {
			return nil, err
		}
		trainers = append(trainers, &t)
	}
	return trainers, rows.Err()
}

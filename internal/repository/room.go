package repository

import (
	"context"
	"database/sql"
)

// Room 场地
type Room struct {
	ID          string
	Name        string
	Location    string
	Capacity    int
	CreatedAtMs int64
}

// RoomRepository 场地仓储
type RoomRepository struct {
	db *sql.DB
}

func NewRoomRepository(db *sql.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) CreateRoom(ctx context.Context, room *Room) error {
	query := `
		INSERT INTO fitness_ops.rooms (id, name, location, capacity, created_at_ms)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		room.ID, room.Name, nullString(room.Location), room.Capacity, room.CreatedAtMs)
	return err
}

func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*Room, error) {
	query := `
		SELECT id, name, COALESCE(location, ''), capacity, created_at_ms
		FROM fitness_ops.rooms
		WHERE id = $1
	`
	var room Room
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID, &room.Name, &room.Location, &room.Capacity, &room.CreatedAtMs)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *RoomRepository) ListRooms(ctx context.Context) ([]*Room, error) {
	query := `
		SELECT id, name, COALESCE(location, ''), capacity, created_at_ms
		FROM fitness_ops.rooms
		ORDER BY name ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Location, &room.Capacity, &room.CreatedAtMs); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

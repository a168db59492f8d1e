package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/plazmica10/fitness-center/internal/repository"
	"github.com/plazmica10/fitness-center/pkg/audit"
	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
	"github.com/plazmica10/fitness-center/pkg/logger"
	"github.com/plazmica10/fitness-center/pkg/snowflake"
	"github.com/plazmica10/fitness-center/pkg/validate"
)

// ClassWriter 排课写入
type ClassWriter interface {
	CreateClass(ctx context.Context, c *repository.Class) error
	UpdateClass(ctx context.Context, c *repository.Class) error
	UpdateClassStatus(ctx context.Context, id, status string, updatedAtMs int64) error
	ListClasses(ctx context.Context, fromMs, toMs int64, limit int) ([]*repository.Class, error)
}

// RoomStore 场地仓储
type RoomStore interface {
	CreateRoom(ctx context.Context, r *repository.Room) error
	GetRoom(ctx context.Context, id string) (*repository.Room, error)
	ListRooms(ctx context.Context) ([]*repository.Room, error)
}

// TrainerStore 教练仓储
type TrainerStore interface {
	CreateTrainer(ctx context.Context, t *repository.Trainer) error
	GetTrainer(ctx context.Context, id string) (*repository.Trainer, error)
	ListTrainers(ctx context.Context) ([]*repository.Trainer, error)
}

// ClassRequest 创建/更新课程的入参
type ClassRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RoomID      string `json:"roomId"`
	TrainerID   string `json:"trainerId"`
	Capacity    int    `json:"capacity"`
	PriceCents  int64  `json:"priceCents"`
	StartTimeMs int64  `json:"startTimeMs"`
	EndTimeMs   int64  `json:"endTimeMs"`
}

// RoomRequest 创建场地的入参
type RoomRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Capacity int    `json:"capacity"`
}

// TrainerRequest 创建教练的入参
type TrainerRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Specialty string `json:"specialty"`
	Rating    int    `json:"rating"`
}

// ClassService 排课管理：课程、场地、教练。
type ClassService struct {
	classes   ClassWriter
	rooms     RoomStore
	trainers  TrainerStore
	validator *AvailabilityValidator
	audit     audit.Logger
	ids       *snowflake.Generator
	log       *logger.Logger
}

// ClassOptions 可选依赖
type ClassOptions struct {
	Audit audit.Logger
	IDs   *snowflake.Generator
}

func NewClassService(
	classes ClassWriter,
	rooms RoomStore,
	trainers TrainerStore,
	validator *AvailabilityValidator,
	log *logger.Logger,
	opts ClassOptions,
) *ClassService {
	return &ClassService{
		classes:   classes,
		rooms:     rooms,
		trainers:  trainers,
		validator: validator,
		audit:     opts.Audit,
		ids:       opts.IDs,
		log:       log,
	}
}

// CreateClass 创建课程。校验时间区间、容量、价格，以及场地/教练的存在性
// 和档期冲突。
func (s *ClassService) CreateClass(ctx context.Context, req *ClassRequest) (*repository.Class, error) {
	if err := s.validateClassRequest(req); err != nil {
		return nil, err
	}
	if req.StartTimeMs <= time.Now().UnixMilli() {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "class cannot start in the past")
	}
	if err := s.checkRoomAndTrainer(ctx, req, ""); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	c := &repository.Class{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		RoomID:      req.RoomID,
		TrainerID:   req.TrainerID,
		Capacity:    req.Capacity,
		PriceCents:  req.PriceCents,
		StartTimeMs: req.StartTimeMs,
		EndTimeMs:   req.EndTimeMs,
		Status:      repository.ClassScheduled,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := s.classes.CreateClass(ctx, c); err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "create class: %v", err)
	}
	s.auditLog(ctx, audit.EventClassCreated, "class", c.ID, map[string]interface{}{
		"title": c.Title, "roomId": c.RoomID, "trainerId": c.TrainerID,
	})
	return c, nil
}

// UpdateClass 更新课程排期。档期冲突检查排除课程自身。
func (s *ClassService) UpdateClass(ctx context.Context, classID string, req *ClassRequest) (*repository.Class, error) {
	if err := validate.UUID("classId", classID); err != nil {
		return nil, err
	}
	if err := s.validateClassRequest(req); err != nil {
		return nil, err
	}
	existing, err := s.validator.CheckClassExists(ctx, classID)
	if err != nil {
		return nil, err
	}
	if existing.Status == repository.ClassCancelled {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "class %s is cancelled", classID)
	}
	if err := s.checkRoomAndTrainer(ctx, req, classID); err != nil {
		return nil, err
	}

	updated := *existing
	updated.Title = req.Title
	updated.Description = req.Description
	updated.RoomID = req.RoomID
	updated.TrainerID = req.TrainerID
	updated.Capacity = req.Capacity
	updated.PriceCents = req.PriceCents
	updated.StartTimeMs = req.StartTimeMs
	updated.EndTimeMs = req.EndTimeMs
	updated.UpdatedAtMs = time.Now().UnixMilli()
	if err := s.classes.UpdateClass(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrClassNotFound) {
			return nil, apperrors.Newf(apperrors.CodeClassNotFound, "class %s not found", classID)
		}
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "update class: %v", err)
	}
	s.auditLog(ctx, audit.EventClassUpdated, "class", classID, map[string]interface{}{"title": req.Title})
	return &updated, nil
}

// CancelClass 取消课程（软删除）
func (s *ClassService) CancelClass(ctx context.Context, classID string) error {
	if err := validate.UUID("classId", classID); err != nil {
		return err
	}
	err := s.classes.UpdateClassStatus(ctx, classID, repository.ClassCancelled, time.Now().UnixMilli())
	if errors.Is(err, repository.ErrClassNotFound) {
		return apperrors.Newf(apperrors.CodeClassNotFound, "class %s not found", classID)
	}
	if err != nil {
		return apperrors.Newf(apperrors.CodeRecordStoreError, "cancel class: %v", err)
	}
	s.auditLog(ctx, audit.EventClassCancelled, "class", classID, nil)
	return nil
}

// GetClass 查询课程
func (s *ClassService) GetClass(ctx context.Context, classID string) (*repository.Class, error) {
	if err := validate.UUID("classId", classID); err != nil {
		return nil, err
	}
	return s.validator.CheckClassExists(ctx, classID)
}

// ListClasses 按时间窗口列出课程
func (s *ClassService) ListClasses(ctx context.Context, fromMs, toMs int64, limit int) ([]*repository.Class, error) {
	classes, err := s.classes.ListClasses(ctx, fromMs, toMs, limit)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "list classes: %v", err)
	}
	return classes, nil
}

// CreateRoom 创建场地
func (s *ClassService) CreateRoom(ctx context.Context, req *RoomRequest) (*repository.Room, error) {
	v := validate.New().
		Required("name", req.Name).
		Capacity("capacity", req.Capacity)
	if v.HasErrors() {
		first := v.FirstError()
		return nil, apperrors.New(first.Code, first.Message)
	}
	room := &repository.Room{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Location:    req.Location,
		Capacity:    req.Capacity,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "create room: %v", err)
	}
	s.auditLog(ctx, audit.EventRoomCreated, "room", room.ID, map[string]interface{}{"name": room.Name})
	return room, nil
}

// GetRoom 查询场地
func (s *ClassService) GetRoom(ctx context.Context, id string) (*repository.Room, error) {
	room, err := s.rooms.GetRoom(ctx, id)
	if errors.Is(err, repository.ErrRoomNotFound) {
		return nil, apperrors.Newf(apperrors.CodeRoomNotFound, "room %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "load room: %v", err)
	}
	return room, nil
}

// ListRooms 列出场地
func (s *ClassService) ListRooms(ctx context.Context) ([]*repository.Room, error) {
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "list rooms: %v", err)
	}
	return rooms, nil
}

// CreateTrainer 创建教练。评分范围 0..5。
func (s *ClassService) CreateTrainer(ctx context.Context, req *TrainerRequest) (*repository.Trainer, error) {
	v := validate.New().Required("name", req.Name)
	if req.Email != "" {
		v.Email("email", req.Email)
	}
	if v.HasErrors() {
		first := v.FirstError()
		return nil, apperrors.New(first.Code, first.Message)
	}
	if req.Rating < 0 || req.Rating > 5 {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "invalid rating: %d (must be 0..5)", req.Rating)
	}
	trainer := &repository.Trainer{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Specialty:   req.Specialty,
		Rating:      req.Rating,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := s.trainers.CreateTrainer(ctx, trainer); err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "create trainer: %v", err)
	}
	s.auditLog(ctx, audit.EventTrainerCreated, "trainer", trainer.ID, map[string]interface{}{"name": trainer.Name})
	return trainer, nil
}

// GetTrainer 查询教练
func (s *ClassService) GetTrainer(ctx context.Context, id string) (*repository.Trainer, error) {
	trainer, err := s.trainers.GetTrainer(ctx, id)
	if errors.Is(err, repository.ErrTrainerNotFound) {
		return nil, apperrors.Newf(apperrors.CodeTrainerNotFound, "trainer %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "load trainer: %v", err)
	}
	return trainer, nil
}

// ListTrainers 列出教练
func (s *ClassService) ListTrainers(ctx context.Context) ([]*repository.Trainer, error) {
	trainers, err := s.trainers.ListTrainers(ctx)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "list trainers: %v", err)
	}
	return trainers, nil
}

func (s *ClassService) validateClassRequest(req *ClassRequest) error {
	v := validate.New().
		Required("title", req.Title).
		UUID("roomId", req.RoomID).
		UUID("trainerId", req.TrainerID).
		Capacity("capacity", req.Capacity).
		TimeRange("time", req.StartTimeMs, req.EndTimeMs)
	if v.HasErrors() {
		first := v.FirstError()
		return apperrors.New(first.Code, first.Message)
	}
	if req.PriceCents < 0 {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid price: %d (must be >= 0 cents)", req.PriceCents)
	}
	return nil
}

func (s *ClassService) checkRoomAndTrainer(ctx context.Context, req *ClassRequest, excludeClassID string) error {
	if _, err := s.GetRoom(ctx, req.RoomID); err != nil {
		return err
	}
	if _, err := s.GetTrainer(ctx, req.TrainerID); err != nil {
		return err
	}
	return s.validator.CheckScheduleOverlap(ctx, req.RoomID, req.TrainerID, req.StartTimeMs, req.EndTimeMs, excludeClassID)
}

func (s *ClassService) auditLog(ctx context.Context, eventType audit.EventType, resource, resourceID string, params map[string]interface{}) {
	if s.audit == nil || s.ids == nil {
		return
	}
	entry := audit.NewLog(eventType, "").WithResource(resource, resourceID)
	if params != nil {
		entry.WithParams(params)
	}
	entry.ID = s.ids.MustGenerate()
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.WithContext(ctx).WithError(err).Errorf("write audit log", nil)
	}
}

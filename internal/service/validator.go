// Package service 预约与排课业务逻辑
package service

import (
	"context"
	"errors"

	"github.com/plazmica10/fitness-center/internal/repository"
	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
)

// ClassStore 课程读取与档期查询
type ClassStore interface {
	GetClass(ctx context.Context, id string) (*repository.Class, error)
	FindRoomOverlaps(ctx context.Context, roomID string, startMs, endMs int64) ([]string, error)
	FindTrainerOverlaps(ctx context.Context, trainerID string, startMs, endMs int64) ([]string, error)
}

// AttendanceCounter 容量与重复预约校验所需的出席查询
type AttendanceCounter interface {
	CountActive(ctx context.Context, classID string) (int, error)
	HasActiveBooking(ctx context.Context, memberID, classID string) (bool, error)
}

// CapacityStatus 容量快照。Capacity <= 0 表示不限。
type CapacityStatus struct {
	Capacity     int `json:"capacity"`
	CurrentCount int `json:"currentCount"`
	Remaining    int `json:"remaining"` // 不限容量时为 -1
}

// Full 判断课程是否已满
func (s *CapacityStatus) Full() bool {
	return s.Capacity > 0 && s.CurrentCount >= s.Capacity
}

// AvailabilityValidator 课程可约性校验
type AvailabilityValidator struct {
	classes     ClassStore
	attendances AttendanceCounter
}

func NewAvailabilityValidator(classes ClassStore, attendances AttendanceCounter) *AvailabilityValidator {
	return &AvailabilityValidator{classes: classes, attendances: attendances}
}

// CheckClassExists 查询课程，不存在时返回 CLASS_NOT_FOUND
func (v *AvailabilityValidator) CheckClassExists(ctx context.Context, classID string) (*repository.Class, error) {
	c, err := v.classes.GetClass(ctx, classID)
	if errors.Is(err, repository.ErrClassNotFound) {
		return nil, apperrors.Newf(apperrors.CodeClassNotFound, "class %s not found", classID)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "load class: %v", err)
	}
	return c, nil
}

// CheckScheduleOverlap 校验 [startMs, endMs) 与同场地、同教练已有课程是否冲突。
// excludeClassID 非空时忽略该课程自身（更新场景）。
func (v *AvailabilityValidator) CheckScheduleOverlap(ctx context.Context, roomID, trainerID string, startMs, endMs int64, excludeClassID string) error {
	if roomID != "" {
		ids, err := v.classes.FindRoomOverlaps(ctx, roomID, startMs, endMs)
		if err != nil {
			return apperrors.Newf(apperrors.CodeRecordStoreError, "room overlap query: %v", err)
		}
		if id := firstOther(ids, excludeClassID); id != "" {
			return apperrors.Newf(apperrors.CodeScheduleConflict, "room %s already booked by class %s", roomID, id)
		}
	}
	if trainerID != "" {
		ids, err := v.classes.FindTrainerOverlaps(ctx, trainerID, startMs, endMs)
		if err != nil {
			return apperrors.Newf(apperrors.CodeRecordStoreError, "trainer overlap query: %v", err)
		}
		if id := firstOther(ids, excludeClassID); id != "" {
			return apperrors.Newf(apperrors.CodeScheduleConflict, "trainer %s already booked by class %s", trainerID, id)
		}
	}
	return nil
}

// CheckCapacity 返回课程容量快照
func (v *AvailabilityValidator) CheckCapacity(ctx context.Context, classID string) (*CapacityStatus, error) {
	c, err := v.CheckClassExists(ctx, classID)
	if err != nil {
		return nil, err
	}
	return v.capacityOf(ctx, c)
}

// capacityOf 基于已加载的课程统计容量，避免重复查询
func (v *AvailabilityValidator) capacityOf(ctx context.Context, c *repository.Class) (*CapacityStatus, error) {
	count, err := v.attendances.CountActive(ctx, c.ID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "count attendances: %v", err)
	}
	status := &CapacityStatus{Capacity: c.Capacity, CurrentCount: count, Remaining: -1}
	if c.Capacity > 0 {
		status.Remaining = c.Capacity - count
		if status.Remaining < 0 {
			status.Remaining = 0
		}
	}
	return status, nil
}

// CheckNotDuplicateBooking 校验会员未重复预约该课程
func (v *AvailabilityValidator) CheckNotDuplicateBooking(ctx context.Context, classID, memberID string) error {
	exists, err := v.attendances.HasActiveBooking(ctx, memberID, classID)
	if err != nil {
		return apperrors.Newf(apperrors.CodeRecordStoreError, "duplicate check: %v", err)
	}
	if exists {
		return apperrors.Newf(apperrors.CodeDuplicateBooking, "member %s already booked class %s", memberID, classID)
	}
	return nil
}

func firstOther(ids []string, exclude string) string {
	for _, id := range ids {
		if id != exclude {
			return id
		}
	}
	return ""
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/plazmica10/fitness-center/internal/repository"
	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
	"github.com/plazmica10/fitness-center/pkg/validate"
)

// AttendanceUpdater 签到/签退所需的出席读写
type AttendanceUpdater interface {
	GetAttendance(ctx context.Context, id string) (*repository.Attendance, error)
	UpdateAttendanceStatus(ctx context.Context, id, status string, updatedAtMs int64) error
}

// AttendanceService 到场签到/签退
type AttendanceService struct {
	attendances AttendanceUpdater
}

func NewAttendanceService(attendances AttendanceUpdater) *AttendanceService {
	return &AttendanceService{attendances: attendances}
}

// CheckIn 签到。仅 confirmed 状态可签到。
func (s *AttendanceService) CheckIn(ctx context.Context, attendanceID string) (*repository.Attendance, error) {
	return s.transition(ctx, attendanceID, repository.AttendanceConfirmed, repository.AttendanceCheckedIn)
}

// CheckOut 签退。仅 checked-in 状态可签退。
func (s *AttendanceService) CheckOut(ctx context.Context, attendanceID string) (*repository.Attendance, error) {
	return s.transition(ctx, attendanceID, repository.AttendanceCheckedIn, repository.AttendanceCheckedOut)
}

func (s *AttendanceService) transition(ctx context.Context, id, from, to string) (*repository.Attendance, error) {
	if err := validate.UUID("attendanceId", id); err != nil {
		return nil, err
	}
	a, err := s.attendances.GetAttendance(ctx, id)
	if errors.Is(err, repository.ErrAttendanceNotFound) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "attendance %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "load attendance: %v", err)
	}
	if a.Status != from {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "attendance %s is %s, expected %s", id, a.Status, from)
	}
	now := time.Now().UnixMilli()
	if err := s.attendances.UpdateAttendanceStatus(ctx, id, to, now); err != nil {
		return nil, apperrors.Newf(apperrors.CodeRecordStoreError, "update attendance: %v", err)
	}
	a.Status = to
	a.UpdatedAtMs = now
	return a, nil
}

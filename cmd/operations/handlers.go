package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/plazmica10/fitness-center/internal/client"
	"github.com/plazmica10/fitness-center/internal/repository"
	"github.com/plazmica10/fitness-center/internal/service"
	"github.com/plazmica10/fitness-center/pkg/audit"
	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
	"github.com/plazmica10/fitness-center/pkg/logger"
	"github.com/plazmica10/fitness-center/pkg/response"
	"github.com/plazmica10/fitness-center/pkg/tracing"
)

// PaymentReader 支付查询
type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*repository.Payment, error)
	ListPaymentsByMember(ctx context.Context, memberID string, limit int) ([]*repository.Payment, error)
}

// AttendanceReader 出席查询
type AttendanceReader interface {
	GetAttendance(ctx context.Context, id string) (*repository.Attendance, error)
	ListAttendancesByClass(ctx context.Context, classID string, limit int) ([]*repository.Attendance, error)
}

type handlers struct {
	bookings    *service.BookingService
	classes     *service.ClassService
	attendance  *service.AttendanceService
	payments    PaymentReader
	attendances AttendanceReader
	audit       audit.Logger
	log         *logger.Logger
}

// writeServiceError 业务错误统一按错误码翻译为 HTTP 状态
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperrors.Error
	if stderrors.As(err, &ae) {
		response.WriteError(w, r, ae)
		return
	}
	tracing.SetError(r.Context(), err)
	h.log.WithContext(r.Context()).WithError(err).Errorf("unhandled service error", map[string]interface{}{
		"path": r.URL.Path,
	})
	response.WriteErrorCode(w, r, apperrors.CodeInternal, "internal error")
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		response.WriteErrorCode(w, r, apperrors.CodeInvalidParam, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response.WriteStatusError(w, r, http.StatusMethodNotAllowed, apperrors.CodeInvalidParam, "method not allowed")
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}

// ========== 预约 ==========

func (h *handlers) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req service.BookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		// 透传调用方的 token，账本按会员身份鉴权
		ctx = client.ContextWithToken(ctx, strings.TrimPrefix(auth, "Bearer "))
	}
	// 成功与回滚都是 200，靠 status 字段区分；前置校验失败才是 4xx
	result, err := h.bookings.BookClass(ctx, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) handleBookingByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/bookings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet {
		tx, err := h.bookings.GetBookingStatus(r.Context(), parts[0])
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, tx)
		return
	}
	response.WriteStatusError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "not found")
}

// ========== 课程 ==========

func (h *handlers) handleClasses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req service.ClassRequest
		if !h.decode(w, r, &req) {
			return
		}
		c, err := h.classes.CreateClass(r.Context(), &req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusCreated, c)
	case http.MethodGet:
		classes, err := h.classes.ListClasses(r.Context(),
			queryInt64(r, "from"), queryInt64(r, "to"), queryInt(r, "limit"))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if classes == nil {
			classes = []*repository.Class{}
		}
		response.WriteJSON(w, http.StatusOK, classes)
	default:
		methodNotAllowed(w, r)
	}
}

func (h *handlers) handleClassByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/classes/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 2 && parts[1] == "attendances" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		attendances, err := h.attendances.ListAttendancesByClass(r.Context(), parts[0], queryInt(r, "limit"))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if attendances == nil {
			attendances = []*repository.Attendance{}
		}
		response.WriteJSON(w, http.StatusOK, attendances)
		return
	}

	if len(parts) != 1 || parts[0] == "" {
		response.WriteStatusError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "not found")
		return
	}
	classID := parts[0]

	switch r.Method {
	case http.MethodGet:
		c, err := h.classes.GetClass(r.Context(), classID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, c)
	case http.MethodPut:
		var req service.ClassRequest
		if !h.decode(w, r, &req) {
			return
		}
		c, err := h.classes.UpdateClass(r.Context(), classID, &req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := h.classes.CancelClass(r.Context(), classID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, map[string]string{"id": classID, "status": repository.ClassCancelled})
	default:
		methodNotAllowed(w, r)
	}
}

// ========== 场地与教练 ==========

func (h *handlers) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req service.RoomRequest
		if !h.decode(w, r, &req) {
			return
		}
		room, err := h.classes.CreateRoom(r.Context(), &req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusCreated, room)
	case http.MethodGet:
		rooms, err := h.classes.ListRooms(r.Context())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if rooms == nil {
			rooms = []*repository.Room{}
		}
		response.WriteJSON(w, http.StatusOK, rooms)
	default:
		methodNotAllowed(w, r)
	}
}

func (h *handlers) handleRoomByPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
	room, err := h.classes.GetRoom(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, room)
}

func (h *handlers) handleTrainers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req service.TrainerRequest
		if !h.decode(w, r, &req) {
			return
		}
		trainer, err := h.classes.CreateTrainer(r.Context(), &req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusCreated, trainer)
	case http.MethodGet:
		trainers, err := h.classes.ListTrainers(r.Context())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if trainers == nil {
			trainers = []*repository.Trainer{}
		}
		response.WriteJSON(w, http.StatusOK, trainers)
	default:
		methodNotAllowed(w, r)
	}
}

func (h *handlers) handleTrainerByPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/trainers/"), "/")
	trainer, err := h.classes.GetTrainer(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, trainer)
}

// ========== 支付与出席查询 ==========

func (h *handlers) handlePaymentByPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/payments/"), "/")
	p, err := h.payments.GetPayment(r.Context(), id)
	if stderrors.Is(err, repository.ErrPaymentNotFound) {
		response.WriteErrorCode(w, r, apperrors.CodeNotFound, "payment not found")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, p)
}

func (h *handlers) handleMemberByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/members/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[1] == "payments" && r.Method == http.MethodGet {
		payments, err := h.payments.ListPaymentsByMember(r.Context(), parts[0], queryInt(r, "limit"))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if payments == nil {
			payments = []*repository.Payment{}
		}
		response.WriteJSON(w, http.StatusOK, payments)
		return
	}
	response.WriteStatusError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "not found")
}

func (h *handlers) handleAttendanceByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/attendances/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 2 && r.Method == http.MethodPost {
		var (
			a   *repository.Attendance
			err error
		)
		switch parts[1] {
		case "check-in":
			a, err = h.attendance.CheckIn(r.Context(), parts[0])
		case "check-out":
			a, err = h.attendance.CheckOut(r.Context(), parts[0])
		default:
			response.WriteStatusError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "not found")
			return
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, a)
		return
	}

	if len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet {
		a, err := h.attendances.GetAttendance(r.Context(), parts[0])
		if stderrors.Is(err, repository.ErrAttendanceNotFound) {
			response.WriteErrorCode(w, r, apperrors.CodeNotFound, "attendance not found")
			return
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, a)
		return
	}
	response.WriteStatusError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "not found")
}

// ========== 审计 ==========

func (h *handlers) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if h.audit == nil {
		response.WriteErrorCode(w, r, apperrors.CodeUnavailable, "audit log not available")
		return
	}
	logs, err := h.audit.Query(r.Context(), &audit.QueryFilter{
		MemberID:  r.URL.Query().Get("memberId"),
		EventType: audit.EventType(r.URL.Query().Get("eventType")),
		StartTime: queryInt64(r, "from"),
		EndTime:   queryInt64(r, "to"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*audit.AuditLog{}
	}
	response.WriteJSON(w, http.StatusOK, logs)
}

func (h *handlers) routes(mux *http.ServeMux) {
	mux.HandleFunc("/bookings", h.handleBookings)
	mux.HandleFunc("/bookings/", h.handleBookingByPath)
	mux.HandleFunc("/classes", h.handleClasses)
	mux.HandleFunc("/classes/", h.handleClassByPath)
	mux.HandleFunc("/rooms", h.handleRooms)
	mux.HandleFunc("/rooms/", h.handleRoomByPath)
	mux.HandleFunc("/trainers", h.handleTrainers)
	mux.HandleFunc("/trainers/", h.handleTrainerByPath)
	mux.HandleFunc("/payments/", h.handlePaymentByPath)
	mux.HandleFunc("/members/", h.handleMemberByPath)
	mux.HandleFunc("/attendances/", h.handleAttendanceByPath)
	mux.HandleFunc("/audit-logs", h.handleAuditLogs)
}

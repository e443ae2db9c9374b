package handler

import (
	"net/http"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/service"
	apperrors "go-gin-event-registration/pkg/app_errors"

	"github.com/gin-gonic/gin"
)

// AttendeeHandler 管理員權限由上游驗證，這裡不做身分檢查
type AttendeeHandler struct {
	service service.RegistrationService
}

func NewAttendeeHandler(service service.RegistrationService) *AttendeeHandler {
	return &AttendeeHandler{service: service}
}

func (h *AttendeeHandler) RegisterRoutes(r *gin.Engine) {
	router := r.Group("/api/v1")
	{
		router.POST("events/:eventId/attendees", h.AddAttendee)
		router.GET("events/:eventId/attendees", h.ListAttendees)
		router.PUT("events/:eventId/attendees/:userId/check-in", h.CheckInAttendee)
		router.PUT("events/:eventId/attendees/:userId/cancel", h.CancelAttendee)
		router.DELETE("events/:eventId/attendees/:userId", h.RemoveAttendee)
	}
}

func (h *AttendeeHandler) AddAttendee(c *gin.Context) {
	var req model.AddAttendeeRequest

	if err := BindJson(c, &req); err != nil {
		return
	}

	attendee, err := h.service.AddAttendee(c.Request.Context(), req.Params(c.Param("eventId")))
	if err != nil {
		h.handleAddError(c, err)
		return
	}

	handleSuccess(c, gin.H{
		"message":  "Attendee added",
		"attendee": attendee,
	}, http.StatusCreated)
}

func (h *AttendeeHandler) ListAttendees(c *gin.Context) {
	attendees, err := h.service.ListAttendees(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		handleError(c, err, "ListAttendees", 0)
		return
	}

	handleSuccess(c, gin.H{"attendees": attendees}, http.StatusOK)
}

func (h *AttendeeHandler) CheckInAttendee(c *gin.Context) {
	attendee, err := h.service.CheckInAttendee(c.Request.Context(), c.Param("eventId"), c.Param("userId"))
	if err != nil {
		handleError(c, err, "CheckInAttendee", 0)
		return
	}

	handleSuccess(c, attendee, http.StatusOK)
}

func (h *AttendeeHandler) CancelAttendee(c *gin.Context) {
	err := h.service.CancelAttendee(c.Request.Context(), c.Param("eventId"), c.Param("userId"))
	if err != nil {
		handleError(c, err, "CancelAttendee", 0)
		return
	}

	handleSuccess(c, gin.H{"message": "Attendee canceled"}, http.StatusOK)
}

func (h *AttendeeHandler) RemoveAttendee(c *gin.Context) {
	err := h.service.RemoveAttendee(c.Request.Context(), c.Param("eventId"), c.Param("userId"))
	if err != nil {
		handleError(c, err, "RemoveAttendee", 0)
		return
	}

	handleSuccess(c, gin.H{"message": "Attendee removed"}, http.StatusOK)
}

// handleAddError 報名的業務拒絕（活動不存在、未開放、額滿、重複報名）一律 400
func (h *AttendeeHandler) handleAddError(c *gin.Context, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindNotFound, apperrors.KindStateConflict:
		handleError(c, err, "AddAttendee", http.StatusBadRequest)
	default:
		handleError(c, err, "AddAttendee", 0)
	}
}

package handler

import (
	"net/http"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/service"

	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	service service.EventService
}

func NewEventHandler(service service.EventService) *EventHandler {
	return &EventHandler{service: service}
}

func (h *EventHandler) RegisterRoutes(r *gin.Engine) {
	router := r.Group("/api/v1")
	{
		router.POST("events", h.CreateEvent)
		router.GET("events", h.ListEvents)
		router.GET("events/:eventId", h.GetEvent)
		router.PATCH("events/:eventId", h.UpdateEvent)
		router.DELETE("events/:eventId", h.ArchiveEvent)
		router.GET("events/:eventId/availability", h.GetAvailability)
	}
}

func (h *EventHandler) CreateEvent(c *gin.Context) {
	var req model.CreateEventRequest

	if err := BindJson(c, &req); err != nil {
		return
	}

	event, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		handleError(c, err, "CreateEvent", 0)
		return
	}

	handleSuccess(c, event, http.StatusCreated)
}

func (h *EventHandler) ListEvents(c *gin.Context) {
	var filter model.ListEventsFilter

	if err := BindQuery(c, &filter); err != nil {
		return
	}

	events, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err, "ListEvents", 0)
		return
	}

	handleSuccess(c, gin.H{"events": events}, http.StatusOK)
}

func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		handleError(c, err, "GetEvent", 0)
		return
	}

	handleSuccess(c, event, http.StatusOK)
}

func (h *EventHandler) UpdateEvent(c *gin.Context) {
	var req model.UpdateEventRequest

	if err := BindJson(c, &req); err != nil {
		return
	}

	event, err := h.service.Update(c.Request.Context(), c.Param("eventId"), req)
	if err != nil {
		handleError(c, err, "UpdateEvent", 0)
		return
	}

	handleSuccess(c, event, http.StatusOK)
}

func (h *EventHandler) ArchiveEvent(c *gin.Context) {
	event, err := h.service.Archive(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		handleError(c, err, "ArchiveEvent", 0)
		return
	}

	handleSuccess(c, event, http.StatusOK)
}

func (h *EventHandler) GetAvailability(c *gin.Context) {
	availability, err := h.service.GetAvailability(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		handleError(c, err, "GetAvailability", 0)
		return
	}

	handleSuccess(c, availability, http.StatusOK)
}

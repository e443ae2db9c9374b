package service

import (
	"context"
	"errors"
	"time"

	"go-gin-event-registration/internal/cache"
	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/queue"
	"go-gin-event-registration/internal/repository"
	"go-gin-event-registration/internal/txn"
	apperrors "go-gin-event-registration/pkg/app_errors"
	"go-gin-event-registration/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventService interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	List(ctx context.Context, filter model.ListEventsFilter) ([]*model.Event, error)
	Get(ctx context.Context, eventID string) (*model.Event, error)
	Update(ctx context.Context, eventID string, req model.UpdateEventRequest) (*model.Event, error)
	// Archive 封存活動（狀態改為 canceled），不再接受報名
	Archive(ctx context.Context, eventID string) (*model.Event, error)
	// GetAvailability 讀取剩餘名額，優先使用 Redis 快取
	GetAvailability(ctx context.Context, eventID string) (*model.SeatAvailability, error)
	// RefreshAvailability 從 store 重新計算並寫回快取
	RefreshAvailability(ctx context.Context, eventID string) (*model.SeatAvailability, error)
}

type EventServiceImpl struct {
	runner   txn.Runner
	repo     repository.EventRepository
	cache    cache.SeatAvailabilityCache
	notifier *notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewEventService(
	runner txn.Runner,
	repo repository.EventRepository,
	availabilityCache cache.SeatAvailabilityCache,
	notificationQueue queue.NotificationQueue,
) EventService {
	log := logger.WithComponent("event")
	return &EventServiceImpl{
		runner:   runner,
		repo:     repo,
		cache:    availabilityCache,
		notifier: &notifier{queue: notificationQueue, log: log, now: time.Now},
		log:      log,
		now:      time.Now,
	}
}

func (s *EventServiceImpl) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Normalize()
	if errs := req.Validate(); len(errs) > 0 {
		return nil, apperrors.Validation(errs...)
	}

	event := &model.Event{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Type:        req.Type,
		Location:    req.Location,
		Overview:    req.Overview,
		Description: req.Description,
		Capacity:    *req.Capacity,
		Status:      model.EventStatus(req.Status),
		MemberPrice: *req.MemberPrice,
		GuestPrice:  *req.GuestPrice,
		CreatedBy:   req.CreatedBy,
	}
	if req.StartsAt != nil {
		t := req.StartsAt.UTC()
		event.StartsAt = &t
	}
	if req.EndsAt != nil {
		t := req.EndsAt.UTC()
		event.EndsAt = &t
	}

	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		event.AttendeesCount = 0
		event.CreatedAt = tx.Now()
		event.UpdatedAt = tx.Now()
		return s.repo.CreateTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("event created", zap.String("event_id", event.ID), zap.Int("capacity", event.Capacity))
	s.notifier.publish(ctx, model.NotificationEventCreated, event.ID, "")
	return event, nil
}

func (s *EventServiceImpl) List(ctx context.Context, filter model.ListEventsFilter) ([]*model.Event, error) {
	filter.Normalize()
	if filter.Status != "" && !model.EventStatus(filter.Status).IsValid() {
		return nil, apperrors.Validation("status must be one of open, closed, canceled")
	}

	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storageError(s.log, "ListEvents", err)
	}
	return events, nil
}

func (s *EventServiceImpl) Get(ctx context.Context, eventID string) (*model.Event, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		return nil, storageError(s.log, "GetEvent", err)
	}
	return event, nil
}

// Update PATCH 語意；容量不可低於目前報名人數，與報名異動在同一份文件上衝突偵測
func (s *EventServiceImpl) Update(ctx context.Context, eventID string, req model.UpdateEventRequest) (*model.Event, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}
	if errs := req.Validate(); len(errs) > 0 {
		return nil, apperrors.Validation(errs...)
	}

	var updated *model.Event
	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		updated = nil

		event, err := s.repo.FindByIDTx(ctx, tx, eventID)
		if err != nil {
			return err
		}

		if event.Status == "" {
			event.Status = model.EventStatusOpen
		}
		current := event.Status
		req.ApplyTo(event)
		if !current.CanTransitionTo(event.Status) {
			return apperrors.ErrInvalidTransition
		}
		if errs := model.ValidateEvent(event); len(errs) > 0 {
			return apperrors.Validation(errs...)
		}
		if event.Capacity < event.AttendeesCount {
			return apperrors.ErrCapacityBelowAttendees
		}

		event.UpdatedAt = tx.Now()
		if err := s.repo.SaveTx(ctx, tx, event); err != nil {
			return err
		}

		updated = event
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.publish(ctx, model.NotificationEventUpdated, eventID, "")
	return updated, nil
}

func (s *EventServiceImpl) Archive(ctx context.Context, eventID string) (*model.Event, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	var archived *model.Event
	changed := false
	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		archived, changed = nil, false

		event, err := s.repo.FindByIDTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event.Status == model.EventStatusCanceled {
			archived = event
			return nil
		}

		event.Status = model.EventStatusCanceled
		event.UpdatedAt = tx.Now()
		if err := s.repo.SaveTx(ctx, tx, event); err != nil {
			return err
		}

		archived, changed = event, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.notifier.publish(ctx, model.NotificationEventArchived, eventID, "")
	}
	return archived, nil
}

func (s *EventServiceImpl) GetAvailability(ctx context.Context, eventID string) (*model.SeatAvailability, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		availability, err := s.cache.Get(ctx, eventID)
		if err == nil {
			return availability, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("availability cache read failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}

	return s.RefreshAvailability(ctx, eventID)
}

func (s *EventServiceImpl) RefreshAvailability(ctx context.Context, eventID string) (*model.SeatAvailability, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, apperrors.ErrEventNotFound) && s.cache != nil {
			if err := s.cache.Invalidate(ctx, eventID); err != nil {
				s.log.Warn("availability cache invalidate failed", zap.String("event_id", eventID), zap.Error(err))
			}
		}
		return nil, storageError(s.log, "RefreshAvailability", err)
	}

	availability := model.NewSeatAvailability(event, s.now().UTC())
	if s.cache != nil {
		if err := s.cache.Set(ctx, availability); err != nil {
			s.log.Warn("availability cache write failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}
	return availability, nil
}

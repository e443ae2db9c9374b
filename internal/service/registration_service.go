package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/queue"
	"go-gin-event-registration/internal/repository"
	"go-gin-event-registration/internal/txn"
	apperrors "go-gin-event-registration/pkg/app_errors"
	"go-gin-event-registration/pkg/logger"

	"go.uber.org/zap"
)

// RegistrationService 報名者生命週期。每個異動操作都是一次 txn.Runner.Run，
// 座位判斷一律使用該次嘗試內讀到的快照
type RegistrationService interface {
	AddAttendee(ctx context.Context, params model.AddAttendeeParams) (*model.Attendee, error)
	ListAttendees(ctx context.Context, eventID string) ([]*model.Attendee, error)
	CheckInAttendee(ctx context.Context, eventID, userID string) (*model.Attendee, error)
	CancelAttendee(ctx context.Context, eventID, userID string) error
	RemoveAttendee(ctx context.Context, eventID, userID string) error
}

type RegistrationServiceImpl struct {
	runner    txn.Runner
	events    repository.EventRepository
	attendees repository.AttendeeRepository
	notifier  *notifier
	log       *zap.Logger
}

// NewRegistrationService notificationQueue 可為 nil（不發送通知）
func NewRegistrationService(
	runner txn.Runner,
	eventRepository repository.EventRepository,
	attendeeRepository repository.AttendeeRepository,
	notificationQueue queue.NotificationQueue,
) RegistrationService {
	log := logger.WithComponent("registration")
	return &RegistrationServiceImpl{
		runner:    runner,
		events:    eventRepository,
		attendees: attendeeRepository,
		notifier:  &notifier{queue: notificationQueue, log: log, now: time.Now},
		log:       log,
	}
}

func (s *RegistrationServiceImpl) AddAttendee(ctx context.Context, params model.AddAttendeeParams) (*model.Attendee, error) {
	if err := validateAttendeeKey(params.EventID, params.UserID); err != nil {
		return nil, err
	}

	fullName := strings.TrimSpace(params.FullName)
	email := strings.TrimSpace(params.Email)
	ticketType := model.NormalizeTicketType(params.TicketType)
	pricePaid := model.NormalizeAmount(params.PricePaid)

	var created *model.Attendee
	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		created = nil

		event, err := s.events.FindByIDTx(ctx, tx, params.EventID)
		if err != nil {
			return err
		}
		if !event.IsOpen() {
			return apperrors.ErrEventNotOpen
		}
		if event.IsFull() {
			return apperrors.ErrEventFull
		}

		// 已取消的紀錄也算存在，必須先移除才能重新報名
		_, err = s.attendees.FindTx(ctx, tx, params.EventID, params.UserID)
		if err == nil {
			return apperrors.ErrAlreadyRegistered
		}
		if !errors.Is(err, apperrors.ErrAttendeeNotFound) {
			return err
		}

		attendee := &model.Attendee{
			EventID:      params.EventID,
			UserID:       params.UserID,
			DisplayName:  fullName,
			Email:        email,
			Role:         model.AttendeeRole,
			TicketType:   ticketType,
			PricePaid:    pricePaid,
			Status:       model.AttendeeStatusRegistered,
			RegisteredAt: tx.Now(),
		}
		if err := s.attendees.CreateTx(ctx, tx, attendee); err != nil {
			return err
		}
		if err := s.events.AdjustAttendeesTx(ctx, tx, event, 1); err != nil {
			return err
		}

		created = attendee
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("attendee added", zap.String("event_id", params.EventID), zap.String("user_id", params.UserID))
	s.notifier.publish(ctx, model.NotificationAttendeeAdded, params.EventID, params.UserID)
	return created, nil
}

func (s *RegistrationServiceImpl) ListAttendees(ctx context.Context, eventID string) ([]*model.Attendee, error) {
	if err := validateEventID(eventID); err != nil {
		return nil, err
	}

	attendees, err := s.attendees.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, storageError(s.log, "ListAttendees", err)
	}
	return attendees, nil
}

// CheckInAttendee 重複報到不報錯，也不覆寫第一次的 checked_in_at
func (s *RegistrationServiceImpl) CheckInAttendee(ctx context.Context, eventID, userID string) (*model.Attendee, error) {
	if err := validateAttendeeKey(eventID, userID); err != nil {
		return nil, err
	}

	var result *model.Attendee
	changed := false
	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		result, changed = nil, false

		attendee, err := s.attendees.FindTx(ctx, tx, eventID, userID)
		if err != nil {
			return err
		}

		switch attendee.Status {
		case model.AttendeeStatusCheckedIn:
			result = attendee
			return nil
		case model.AttendeeStatusCanceled:
			return apperrors.ErrAttendeeCanceled
		}

		if !attendee.Status.CanTransitionTo(model.AttendeeStatusCheckedIn) {
			return apperrors.ErrInvalidTransition
		}

		now := tx.Now()
		attendee.Status = model.AttendeeStatusCheckedIn
		attendee.CheckedInAt = &now
		if err := s.attendees.SaveTx(ctx, tx, attendee); err != nil {
			return err
		}

		result, changed = attendee, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.notifier.publish(ctx, model.NotificationAttendeeCheckedIn, eventID, userID)
	}
	return result, nil
}

// CancelAttendee 只有原本佔用座位時才扣回人數；已取消者再次取消為 no-op
func (s *RegistrationServiceImpl) CancelAttendee(ctx context.Context, eventID, userID string) error {
	if err := validateAttendeeKey(eventID, userID); err != nil {
		return err
	}

	changed := false
	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		changed = false

		attendee, err := s.attendees.FindTx(ctx, tx, eventID, userID)
		if err != nil {
			return err
		}
		if attendee.Status == model.AttendeeStatusCanceled {
			return nil
		}

		occupying := attendee.Status.OccupiesSeat()
		attendee.Status = model.AttendeeStatusCanceled
		if err := s.attendees.SaveTx(ctx, tx, attendee); err != nil {
			return err
		}

		if occupying {
			if err := s.releaseSeat(ctx, tx, eventID); err != nil {
				return err
			}
		}

		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		s.notifier.publish(ctx, model.NotificationAttendeeCanceled, eventID, userID)
	}
	return nil
}

func (s *RegistrationServiceImpl) RemoveAttendee(ctx context.Context, eventID, userID string) error {
	if err := validateAttendeeKey(eventID, userID); err != nil {
		return err
	}

	err := s.runner.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		attendee, err := s.attendees.FindTx(ctx, tx, eventID, userID)
		if err != nil {
			return err
		}

		occupying := attendee.Status.OccupiesSeat()
		if err := s.attendees.DeleteTx(ctx, tx, eventID, userID); err != nil {
			return err
		}

		if occupying {
			return s.releaseSeat(ctx, tx, eventID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.publish(ctx, model.NotificationAttendeeRemoved, eventID, userID)
	return nil
}

// releaseSeat 在同一交易內讀取活動並把報名人數減一
func (s *RegistrationServiceImpl) releaseSeat(ctx context.Context, tx *txn.Tx, eventID string) error {
	event, err := s.events.FindByIDTx(ctx, tx, eventID)
	if err != nil {
		return err
	}
	return s.events.AdjustAttendeesTx(ctx, tx, event, -1)
}

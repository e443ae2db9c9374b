package repository_test

import (
	"context"
	"testing"
	"time"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/repository"
	"go-gin-event-registration/internal/store/memory"
	"go-gin-event-registration/internal/txn"
	apperrors "go-gin-event-registration/pkg/app_errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	coordinator *txn.Coordinator
	events      repository.EventRepository
	attendees   repository.AttendeeRepository
}

func newFixture() *fixture {
	s := memory.New()
	return &fixture{
		coordinator: txn.NewCoordinator(s, txn.ImmediateRetryPolicy(3)),
		events:      repository.NewEventRepository(s),
		attendees:   repository.NewAttendeeRepository(s),
	}
}

func (f *fixture) createEvent(t *testing.T, event *model.Event) {
	t.Helper()
	err := f.coordinator.Run(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		return f.events.CreateTx(ctx, tx, event)
	})
	require.NoError(t, err)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestEventRepository_CreateAndFind(t *testing.T) {
	f := newFixture()
	f.createEvent(t, &model.Event{ID: "e1", Title: "Go meetup", Capacity: 3, Status: model.EventStatusOpen})

	event, err := f.events.FindByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "Go meetup", event.Title)
	assert.Equal(t, 3, event.Capacity)

	_, err = f.events.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)

	_, err = f.events.FindByID(context.Background(), "a/b")
	assert.ErrorIs(t, err, apperrors.ErrInvalidID)
}

func TestEventRepository_CreateRejectsExistingID(t *testing.T) {
	f := newFixture()
	f.createEvent(t, &model.Event{ID: "e1", Title: "first"})

	err := f.coordinator.Run(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		return f.events.CreateTx(ctx, tx, &model.Event{ID: "e1", Title: "second"})
	})
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	event, err := f.events.FindByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "first", event.Title)
}

func TestEventRepository_AdjustAttendeesChecksCapacity(t *testing.T) {
	f := newFixture()
	f.createEvent(t, &model.Event{ID: "e1", Capacity: 1, Status: model.EventStatusOpen})
	ctx := context.Background()

	err := f.coordinator.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		event, err := f.events.FindByIDTx(ctx, tx, "e1")
		if err != nil {
			return err
		}
		return f.events.AdjustAttendeesTx(ctx, tx, event, 1)
	})
	require.NoError(t, err)

	err = f.coordinator.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		event, err := f.events.FindByIDTx(ctx, tx, "e1")
		if err != nil {
			return err
		}
		return f.events.AdjustAttendeesTx(ctx, tx, event, 1)
	})
	assert.ErrorIs(t, err, apperrors.ErrEventFull)

	err = f.coordinator.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		event, err := f.events.FindByIDTx(ctx, tx, "e1")
		if err != nil {
			return err
		}
		if err := f.events.AdjustAttendeesTx(ctx, tx, event, -1); err != nil {
			return err
		}
		return f.events.AdjustAttendeesTx(ctx, tx, event, -1)
	})
	assert.ErrorIs(t, err, apperrors.ErrCounterInvariant)

	event, err := f.events.FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, event.AttendeesCount)
}

func TestEventRepository_ListOrdersByStartAndFilters(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.createEvent(t, &model.Event{ID: "late", Status: model.EventStatusOpen, StartsAt: timePtr(base.Add(48 * time.Hour))})
	f.createEvent(t, &model.Event{ID: "unscheduled", Status: model.EventStatusOpen})
	f.createEvent(t, &model.Event{ID: "early", Status: model.EventStatusOpen, StartsAt: timePtr(base)})
	f.createEvent(t, &model.Event{ID: "closed", Status: model.EventStatusClosed, StartsAt: timePtr(base.Add(time.Hour))})

	events, err := f.events.List(context.Background(), model.ListEventsFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"early", "closed", "late", "unscheduled"}, ids)

	open, err := f.events.List(context.Background(), model.ListEventsFilter{Status: "OPEN", Limit: 2})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "early", open[0].ID)
	assert.Equal(t, "late", open[1].ID)
}

func TestAttendeeRepository_ListByEventNewestFirst(t *testing.T) {
	f := newFixture()
	f.createEvent(t, &model.Event{ID: "e1", Capacity: 10})
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	err := f.coordinator.Run(context.Background(), func(ctx context.Context, tx *txn.Tx) error {
		for i, userID := range []string{"u1", "u2", "u3"} {
			if err := f.attendees.CreateTx(ctx, tx, &model.Attendee{
				EventID:      "e1",
				UserID:       userID,
				Status:       model.AttendeeStatusRegistered,
				RegisteredAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	attendees, err := f.attendees.ListByEvent(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, attendees, 3)
	assert.Equal(t, "u3", attendees[0].UserID)
	assert.Equal(t, "u2", attendees[1].UserID)
	assert.Equal(t, "u1", attendees[2].UserID)

	empty, err := f.attendees.ListByEvent(context.Background(), "e2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAttendeeRepository_FindAndDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	err := f.coordinator.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		_, err := f.attendees.FindTx(ctx, tx, "e1", "u1")
		assert.ErrorIs(t, err, apperrors.ErrAttendeeNotFound)
		return f.attendees.CreateTx(ctx, tx, &model.Attendee{EventID: "e1", UserID: "u1", Status: model.AttendeeStatusRegistered})
	})
	require.NoError(t, err)

	err = f.coordinator.Run(ctx, func(ctx context.Context, tx *txn.Tx) error {
		attendee, err := f.attendees.FindTx(ctx, tx, "e1", "u1")
		if err != nil {
			return err
		}
		assert.Equal(t, model.AttendeeStatusRegistered, attendee.Status)
		return f.attendees.DeleteTx(ctx, tx, "e1", "u1")
	})
	require.NoError(t, err)

	attendees, err := f.attendees.ListByEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, attendees)
}

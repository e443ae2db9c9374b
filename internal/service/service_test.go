package service_test

import (
	"context"
	"testing"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/queue"
	"go-gin-event-registration/internal/repository"
	"go-gin-event-registration/internal/service"
	"go-gin-event-registration/internal/store"
	"go-gin-event-registration/internal/store/memory"
	"go-gin-event-registration/internal/txn"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store        store.Store
	events       repository.EventRepository
	attendees    repository.AttendeeRepository
	registration service.RegistrationService
	eventService service.EventService
	queue        queue.NotificationQueue
}

// 每個 goroutine 最多因其他提交衝突 N 次，attempts 給足就不會出現 ConflictExhausted
func newTestEnv(t *testing.T, s store.Store, maxAttempts int) *testEnv {
	t.Helper()
	if s == nil {
		s = memory.New()
	}
	coordinator := txn.NewCoordinator(s, txn.ImmediateRetryPolicy(maxAttempts))
	events := repository.NewEventRepository(s)
	attendees := repository.NewAttendeeRepository(s)
	q := queue.NewNotificationQueue(4096)

	return &testEnv{
		store:        s,
		events:       events,
		attendees:    attendees,
		registration: service.NewRegistrationService(coordinator, events, attendees, q),
		eventService: service.NewEventService(coordinator, events, nil, q),
		queue:        q,
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func (e *testEnv) createEvent(t *testing.T, capacity int, status model.EventStatus) *model.Event {
	t.Helper()
	event, err := e.eventService.Create(context.Background(), model.CreateEventRequest{
		Title:       "Go meetup",
		Type:        "Event",
		Location:    "Taipei",
		Capacity:    intPtr(capacity),
		MemberPrice: floatPtr(0),
		GuestPrice:  floatPtr(100),
		Status:      string(status),
	})
	require.NoError(t, err)
	return event
}

func (e *testEnv) add(ctx context.Context, eventID, userID string) (*model.Attendee, error) {
	return e.registration.AddAttendee(ctx, model.AddAttendeeParams{
		EventID:    eventID,
		UserID:     userID,
		FullName:   "User " + userID,
		Email:      userID + "@example.com",
		TicketType: "guest",
	})
}

func (e *testEnv) attendeesCount(t *testing.T, eventID string) int {
	t.Helper()
	event, err := e.events.FindByID(context.Background(), eventID)
	require.NoError(t, err)
	return event.AttendeesCount
}

// assertInvariants 檢查 0 <= attendees_count <= capacity，且等於佔用座位的報名者數
func (e *testEnv) assertInvariants(t *testing.T, eventID string) {
	t.Helper()
	ctx := context.Background()
	event, err := e.events.FindByID(ctx, eventID)
	require.NoError(t, err)
	attendees, err := e.attendees.ListByEvent(ctx, eventID)
	require.NoError(t, err)

	occupying := 0
	seen := make(map[string]bool)
	for _, a := range attendees {
		require.False(t, seen[a.UserID], "duplicate attendee %s", a.UserID)
		seen[a.UserID] = true
		if a.Status.OccupiesSeat() {
			occupying++
		}
	}

	require.GreaterOrEqual(t, event.AttendeesCount, 0)
	require.LessOrEqual(t, event.AttendeesCount, event.Capacity)
	require.Equal(t, occupying, event.AttendeesCount)
}

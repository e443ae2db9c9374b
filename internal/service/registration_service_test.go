package service_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/repository"
	"go-gin-event-registration/internal/service"
	"go-gin-event-registration/internal/store"
	"go-gin-event-registration/internal/store/memory"
	"go-gin-event-registration/internal/txn"
	apperrors "go-gin-event-registration/pkg/app_errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario A: capacity 2，第三位報名者回傳 EventFull
func TestAddAttendee_FillsToCapacity(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 2, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))

	_, err = env.add(ctx, event.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, env.attendeesCount(t, event.ID))

	_, err = env.add(ctx, event.ID, "u3")
	assert.ErrorIs(t, err, apperrors.ErrEventFull)
	assert.Equal(t, 2, env.attendeesCount(t, event.ID))

	env.assertInvariants(t, event.ID)
}

// Scenario B
func TestAddAttendee_DuplicateUser(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)

	_, err = env.add(ctx, event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRegistered)
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))
}

// Scenario C
func TestAddAttendee_EventNotOpen(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	event := env.createEvent(t, 5, model.EventStatusClosed)

	_, err := env.add(context.Background(), event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrEventNotOpen)
	assert.Equal(t, 0, env.attendeesCount(t, event.ID))
}

func TestAddAttendee_EventNotFound(t *testing.T) {
	env := newTestEnv(t, nil, 5)

	_, err := env.add(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func TestAddAttendee_ValidationBeforeStoreAccess(t *testing.T) {
	env := newTestEnv(t, &failingStore{err: errors.New("must not be called")}, 5)
	ctx := context.Background()

	_, err := env.add(ctx, "e1", "")
	assert.ErrorIs(t, err, apperrors.ErrUserIDRequired)

	_, err = env.add(ctx, "", "u1")
	assert.ErrorIs(t, err, apperrors.ErrEventIDRequired)

	_, err = env.add(ctx, "e1", "a/b")
	assert.ErrorIs(t, err, apperrors.ErrInvalidID)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAddAttendee_NormalizesInput(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	before := time.Now().UTC().Add(-time.Second)
	member, err := env.registration.AddAttendee(ctx, model.AddAttendeeParams{
		EventID:    event.ID,
		UserID:     "u1",
		FullName:   "  Alice Chen ",
		Email:      " alice@example.com ",
		TicketType: "member",
		PricePaid:  -30,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Chen", member.DisplayName)
	assert.Equal(t, "alice@example.com", member.Email)
	assert.Equal(t, model.TicketTypeMember, member.TicketType)
	assert.Equal(t, 0.0, member.PricePaid)
	assert.Equal(t, model.AttendeeStatusRegistered, member.Status)
	assert.Equal(t, model.AttendeeRole, member.Role)
	assert.Nil(t, member.CheckedInAt)
	assert.True(t, member.RegisteredAt.After(before))

	guest, err := env.registration.AddAttendee(ctx, model.AddAttendeeParams{
		EventID:    event.ID,
		UserID:     "u2",
		TicketType: "MEMBER",
		PricePaid:  math.NaN(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TicketTypeGuest, guest.TicketType)
	assert.Equal(t, 0.0, guest.PricePaid)
}

// 已取消的紀錄仍佔用 (eventId, userId)，必須先移除才能重新報名
func TestAddAttendee_AfterCancelRequiresRemove(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)
	require.NoError(t, env.registration.CancelAttendee(ctx, event.ID, "u1"))

	_, err = env.add(ctx, event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRegistered)

	require.NoError(t, env.registration.RemoveAttendee(ctx, event.ID, "u1"))
	_, err = env.add(ctx, event.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))
	env.assertInvariants(t, event.ID)
}

// Scenario D
func TestCancelAttendee_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))

	require.NoError(t, env.registration.CancelAttendee(ctx, event.ID, "u1"))
	assert.Equal(t, 0, env.attendeesCount(t, event.ID))

	attendees, err := env.registration.ListAttendees(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, attendees, 1)
	assert.Equal(t, model.AttendeeStatusCanceled, attendees[0].Status)

	require.NoError(t, env.registration.CancelAttendee(ctx, event.ID, "u1"))
	assert.Equal(t, 0, env.attendeesCount(t, event.ID))
	env.assertInvariants(t, event.ID)
}

func TestCancelAttendee_NotFound(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	event := env.createEvent(t, 5, model.EventStatusOpen)

	err := env.registration.CancelAttendee(context.Background(), event.ID, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrAttendeeNotFound)
}

// Scenario E
func TestCheckInAttendee_KeepsCountThenCancelReleasesSeat(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)

	checkedIn, err := env.registration.CheckInAttendee(ctx, event.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.AttendeeStatusCheckedIn, checkedIn.Status)
	require.NotNil(t, checkedIn.CheckedInAt)
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))

	require.NoError(t, env.registration.CancelAttendee(ctx, event.ID, "u1"))
	assert.Equal(t, 0, env.attendeesCount(t, event.ID))
	env.assertInvariants(t, event.ID)
}

func TestCheckInAttendee_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)

	first, err := env.registration.CheckInAttendee(ctx, event.ID, "u1")
	require.NoError(t, err)
	second, err := env.registration.CheckInAttendee(ctx, event.ID, "u1")
	require.NoError(t, err)

	require.NotNil(t, second.CheckedInAt)
	assert.True(t, first.CheckedInAt.Equal(*second.CheckedInAt))
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))
}

func TestCheckInAttendee_Errors(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.registration.CheckInAttendee(ctx, event.ID, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrAttendeeNotFound)

	_, err = env.add(ctx, event.ID, "u1")
	require.NoError(t, err)
	require.NoError(t, env.registration.CancelAttendee(ctx, event.ID, "u1"))

	_, err = env.registration.CheckInAttendee(ctx, event.ID, "u1")
	assert.ErrorIs(t, err, apperrors.ErrAttendeeCanceled)
	assert.Equal(t, 0, env.attendeesCount(t, event.ID))
	env.assertInvariants(t, event.ID)
}

func TestRemoveAttendee_ReleasesSeatOnce(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	for _, u := range []string{"u1", "u2"} {
		_, err := env.add(ctx, event.ID, u)
		require.NoError(t, err)
	}

	// 直接移除佔用座位者
	require.NoError(t, env.registration.RemoveAttendee(ctx, event.ID, "u1"))
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))

	// 先取消再移除只扣一次
	require.NoError(t, env.registration.CancelAttendee(ctx, event.ID, "u2"))
	require.NoError(t, env.registration.RemoveAttendee(ctx, event.ID, "u2"))
	assert.Equal(t, 0, env.attendeesCount(t, event.ID))

	err := env.registration.RemoveAttendee(ctx, event.ID, "u2")
	assert.ErrorIs(t, err, apperrors.ErrAttendeeNotFound)

	attendees, err := env.registration.ListAttendees(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, attendees)
}

func TestListAttendees_NewestFirst(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx := context.Background()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := env.add(ctx, event.ID, u)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	attendees, err := env.registration.ListAttendees(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, attendees, 3)
	assert.Equal(t, "u3", attendees[0].UserID)
	assert.Equal(t, "u1", attendees[2].UserID)
}

func TestAddAttendee_PublishesNotification(t *testing.T) {
	env := newTestEnv(t, nil, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	event := env.createEvent(t, 5, model.EventStatusOpen)

	_, err := env.add(ctx, event.ID, "u1")
	require.NoError(t, err)

	ch, err := env.queue.Subscribe(ctx)
	require.NoError(t, err)

	var types []model.NotificationType
	for len(types) < 2 {
		select {
		case d := <-ch:
			types = append(types, d.Data.Type)
			d.Ack()
		case <-ctx.Done():
			t.Fatal("timeout 未收到通知")
		}
	}
	assert.Equal(t, []model.NotificationType{model.NotificationEventCreated, model.NotificationAttendeeAdded}, types)
}

// N > C 個不同使用者同時報名：剛好 C 個成功，其餘 EventFull
func TestAddAttendee_ConcurrentNoOverbooking(t *testing.T) {
	const (
		capacity = 10
		users    = 40
	)
	env := newTestEnv(t, nil, 2*users+5)
	ctx := context.Background()
	event := env.createEvent(t, capacity, model.EventStatusOpen)

	success, full := runConcurrentAdds(t, env, event.ID, users, func(i int) string { return fmt.Sprintf("user-%d", i) })

	assert.Equal(t, capacity, success)
	assert.Equal(t, users-capacity, full)
	assert.Equal(t, capacity, env.attendeesCount(t, event.ID))
	env.assertInvariants(t, event.ID)

	attendees, err := env.registration.ListAttendees(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, attendees, capacity)
}

// 同一使用者同時報名多次：只有一次成功，其餘 AlreadyRegistered
func TestAddAttendee_ConcurrentDuplicateUser(t *testing.T) {
	const attempts = 15
	env := newTestEnv(t, nil, 2*attempts+5)
	event := env.createEvent(t, 5, model.EventStatusOpen)

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.add(context.Background(), event.ID, "same-user")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyRegistered)
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, env.attendeesCount(t, event.ID))
	env.assertInvariants(t, event.ID)
}

// 同時取消與報名混合進行，結束後計數仍與實際佔用座位者一致
func TestConcurrentCancelAndAdd_KeepsCounterConsistent(t *testing.T) {
	const capacity = 5
	env := newTestEnv(t, nil, 100)
	ctx := context.Background()
	event := env.createEvent(t, capacity, model.EventStatusOpen)

	for i := 0; i < capacity; i++ {
		_, err := env.add(ctx, event.ID, fmt.Sprintf("early-%d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < capacity; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, env.registration.CancelAttendee(ctx, event.ID, fmt.Sprintf("early-%d", i)))
		}(i)
		go func(i int) {
			defer wg.Done()
			// 重複取消只能扣一次
			assert.NoError(t, env.registration.CancelAttendee(ctx, event.ID, fmt.Sprintf("early-%d", i)))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := env.add(ctx, event.ID, fmt.Sprintf("late-%d", i))
			if err != nil {
				assert.ErrorIs(t, err, apperrors.ErrEventFull)
			}
		}(i)
	}
	wg.Wait()

	env.assertInvariants(t, event.ID)
}

func TestAddAttendee_DeadlineSurfacesConflictExhausted(t *testing.T) {
	inner := memory.New()
	s := &alwaysConflictStore{Store: inner}
	seedEnv := newTestEnv(t, inner, 5)
	event := seedEnv.createEvent(t, 5, model.EventStatusOpen)

	coordinator := txn.NewCoordinator(s, txn.DefaultRetryPolicy())
	registration := service.NewRegistrationService(coordinator, repository.NewEventRepository(s), repository.NewAttendeeRepository(s), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := registration.AddAttendee(ctx, model.AddAttendeeParams{EventID: event.ID, UserID: "u1"})
	assert.ErrorIs(t, err, apperrors.ErrConflictExhausted)
	assert.Equal(t, apperrors.KindConflictExhausted, apperrors.KindOf(err))
}

func TestRegistration_StorageFailureIsOpaque(t *testing.T) {
	env := newTestEnv(t, &failingStore{err: errors.New("dial tcp 10.0.0.1:5432: connection refused")}, 5)
	ctx := context.Background()

	_, err := env.add(ctx, "e1", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeStorageFailure, appErr.Code)
	assert.NotContains(t, appErr.Message, "connection refused")

	_, err = env.registration.ListAttendees(ctx, "e1")
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

// 報到讀取後、提交前，該報名者被移除又以新資料重新報名；報到必須套用在新紀錄上
func TestCheckInAttendee_RetriesWhenAttendeeRecreatedMidTransaction(t *testing.T) {
	inner := memory.New()
	seedEnv := newTestEnv(t, inner, 5)
	ctx := context.Background()
	event := seedEnv.createEvent(t, 5, model.EventStatusOpen)

	_, err := seedEnv.registration.AddAttendee(ctx, model.AddAttendeeParams{
		EventID: event.ID, UserID: "u1", Email: "old@example.com", TicketType: "guest",
	})
	require.NoError(t, err)

	var recreated *model.Attendee
	s := &interleavingStore{
		Store: inner,
		key:   "events/" + event.ID + "/attendees/u1",
		hook: func() {
			require.NoError(t, seedEnv.registration.RemoveAttendee(ctx, event.ID, "u1"))
			recreated, err = seedEnv.registration.AddAttendee(ctx, model.AddAttendeeParams{
				EventID: event.ID, UserID: "u1", Email: "new@example.com", TicketType: "member", PricePaid: 50,
			})
			require.NoError(t, err)
		},
	}
	coordinator := txn.NewCoordinator(s, txn.ImmediateRetryPolicy(5))
	registration := service.NewRegistrationService(coordinator, repository.NewEventRepository(s), repository.NewAttendeeRepository(s), nil)

	checkedIn, err := registration.CheckInAttendee(ctx, event.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, recreated)

	assert.Equal(t, "new@example.com", checkedIn.Email)
	assert.Equal(t, model.TicketTypeMember, checkedIn.TicketType)
	assert.Equal(t, 50.0, checkedIn.PricePaid)
	assert.Equal(t, model.AttendeeStatusCheckedIn, checkedIn.Status)
	assert.True(t, recreated.RegisteredAt.Equal(checkedIn.RegisteredAt))

	attendees, err := seedEnv.registration.ListAttendees(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, attendees, 1)
	assert.Equal(t, "new@example.com", attendees[0].Email)
	assert.Equal(t, 1, seedEnv.attendeesCount(t, event.ID))
}

func runConcurrentAdds(t *testing.T, env *testEnv, eventID string, n int, userID func(int) string) (success, full int) {
	t.Helper()
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.add(context.Background(), eventID, userID(i))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, apperrors.ErrEventFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	return success, full
}

type failingStore struct {
	err error
}

func (s *failingStore) Get(ctx context.Context, key string) (*store.Document, error) {
	return nil, s.err
}

func (s *failingStore) List(ctx context.Context, collection string) ([]*store.Document, error) {
	return nil, s.err
}

func (s *failingStore) Commit(ctx context.Context, batch store.Batch) error {
	return s.err
}

type alwaysConflictStore struct {
	store.Store
}

func (s *alwaysConflictStore) Commit(ctx context.Context, batch store.Batch) error {
	return store.ErrVersionConflict
}

// interleavingStore 在第一次讀到 key 之後執行 hook，模擬並行寫入插在讀與提交之間
type interleavingStore struct {
	store.Store
	key  string
	once sync.Once
	hook func()
}

func (s *interleavingStore) Get(ctx context.Context, key string) (*store.Document, error) {
	doc, err := s.Store.Get(ctx, key)
	if key == s.key {
		s.once.Do(s.hook)
	}
	return doc, err
}

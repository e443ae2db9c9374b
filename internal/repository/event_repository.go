package repository

import (
	"context"
	"fmt"
	"sort"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/store"
	"go-gin-event-registration/internal/txn"
	apperrors "go-gin-event-registration/pkg/app_errors"
)

type EventRepository interface {
	FindByID(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context, filter model.ListEventsFilter) ([]*model.Event, error)

	// Transaction methods
	FindByIDTx(ctx context.Context, tx *txn.Tx, id string) (*model.Event, error)
	CreateTx(ctx context.Context, tx *txn.Tx, event *model.Event) error
	SaveTx(ctx context.Context, tx *txn.Tx, event *model.Event) error
	AdjustAttendeesTx(ctx context.Context, tx *txn.Tx, event *model.Event, delta int) error
}

type EventRepositoryImpl struct {
	store store.Store
}

func NewEventRepository(s store.Store) EventRepository {
	return &EventRepositoryImpl{
		store: s,
	}
}

func (r *EventRepositoryImpl) FindByID(ctx context.Context, id string) (*model.Event, error) {
	key, err := eventKey(id)
	if err != nil {
		return nil, err
	}

	doc, err := r.store.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.ErrEventNotFound
		}
		return nil, err
	}

	return decodeEvent(doc)
}

// List 依 starts_at 由早到晚排序，未設定開始時間者排在最後
func (r *EventRepositoryImpl) List(ctx context.Context, filter model.ListEventsFilter) ([]*model.Event, error) {
	filter.Normalize()

	docs, err := r.store.List(ctx, eventsCollection)
	if err != nil {
		return nil, err
	}

	events := make([]*model.Event, 0, len(docs))
	for _, doc := range docs {
		event, err := decodeEvent(doc)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && string(event.Status) != filter.Status {
			continue
		}
		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].StartsAt, events[j].StartsAt
		switch {
		case a == nil && b == nil:
			return events[i].ID < events[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return events[i].ID < events[j].ID
		default:
			return a.Before(*b)
		}
	})

	if len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

func (r *EventRepositoryImpl) FindByIDTx(ctx context.Context, tx *txn.Tx, id string) (*model.Event, error) {
	key, err := eventKey(id)
	if err != nil {
		return nil, err
	}

	doc, err := tx.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.ErrEventNotFound
		}
		return nil, err
	}

	return decodeEvent(doc)
}

// CreateTx 新增活動，必須先在同一交易內確認 key 不存在
func (r *EventRepositoryImpl) CreateTx(ctx context.Context, tx *txn.Tx, event *model.Event) error {
	key, err := eventKey(event.ID)
	if err != nil {
		return err
	}

	if _, err := tx.Get(ctx, key); err == nil {
		return fmt.Errorf("event %s already exists", event.ID)
	} else if !isNotFound(err) {
		return err
	}

	body, err := encode(event)
	if err != nil {
		return err
	}
	tx.Put(key, body)
	return nil
}

// SaveTx 覆寫整份活動文件。呼叫前必須已在同一交易內讀取過該活動
func (r *EventRepositoryImpl) SaveTx(ctx context.Context, tx *txn.Tx, event *model.Event) error {
	key, err := eventKey(event.ID)
	if err != nil {
		return err
	}

	if event.AttendeesCount < 0 {
		return apperrors.ErrCounterInvariant
	}
	if event.AttendeesCount > event.Capacity {
		return apperrors.ErrCapacityBelowAttendees
	}

	body, err := encode(event)
	if err != nil {
		return err
	}
	tx.Put(key, body)
	return nil
}

// AdjustAttendeesTx 以原子遞增調整報名人數，並以同一交易讀到的快照檢查
// 0 <= attendees_count + delta <= capacity。event 必須來自 FindByIDTx
func (r *EventRepositoryImpl) AdjustAttendeesTx(ctx context.Context, tx *txn.Tx, event *model.Event, delta int) error {
	if delta == 0 {
		return nil
	}

	key, err := eventKey(event.ID)
	if err != nil {
		return err
	}

	next := event.AttendeesCount + delta
	if next > event.Capacity {
		return apperrors.ErrEventFull
	}
	if next < 0 {
		return apperrors.ErrCounterInvariant
	}

	tx.Increment(key, model.AttendeesCountField, int64(delta))
	event.AttendeesCount = next
	return nil
}

// 文件 key 的最後一段就是活動 ID，舊文件沒有 id 欄位時以 key 補上
func decodeEvent(doc *store.Document) (*model.Event, error) {
	event, err := decode[model.Event](doc)
	if err != nil {
		return nil, err
	}
	if event.ID == "" {
		event.ID = doc.Key[len(store.CollectionOf(doc.Key))+1:]
	}
	event.Version = doc.Version
	return event, nil
}

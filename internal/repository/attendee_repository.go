package repository

import (
	"context"
	"sort"

	"go-gin-event-registration/internal/model"
	"go-gin-event-registration/internal/store"
	"go-gin-event-registration/internal/txn"
	apperrors "go-gin-event-registration/pkg/app_errors"
)

type AttendeeRepository interface {
	ListByEvent(ctx context.Context, eventID string) ([]*model.Attendee, error)

	// Transaction methods
	FindTx(ctx context.Context, tx *txn.Tx, eventID, userID string) (*model.Attendee, error)
	CreateTx(ctx context.Context, tx *txn.Tx, attendee *model.Attendee) error
	SaveTx(ctx context.Context, tx *txn.Tx, attendee *model.Attendee) error
	DeleteTx(ctx context.Context, tx *txn.Tx, eventID, userID string) error
}

type AttendeeRepositoryImpl struct {
	store store.Store
}

func NewAttendeeRepository(s store.Store) AttendeeRepository {
	return &AttendeeRepositoryImpl{
		store: s,
	}
}

// ListByEvent 依 registered_at 由新到舊排序
func (r *AttendeeRepositoryImpl) ListByEvent(ctx context.Context, eventID string) ([]*model.Attendee, error) {
	collection, err := attendeesCollection(eventID)
	if err != nil {
		return nil, err
	}

	docs, err := r.store.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	attendees := make([]*model.Attendee, 0, len(docs))
	for _, doc := range docs {
		attendee, err := decodeAttendee(eventID, doc)
		if err != nil {
			return nil, err
		}
		attendees = append(attendees, attendee)
	}

	sort.SliceStable(attendees, func(i, j int) bool {
		a, b := attendees[i].RegisteredAt, attendees[j].RegisteredAt
		if a.Equal(b) {
			return attendees[i].UserID < attendees[j].UserID
		}
		return a.After(b)
	})

	return attendees, nil
}

func (r *AttendeeRepositoryImpl) FindTx(ctx context.Context, tx *txn.Tx, eventID, userID string) (*model.Attendee, error) {
	key, err := attendeeKey(eventID, userID)
	if err != nil {
		return nil, err
	}

	doc, err := tx.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.ErrAttendeeNotFound
		}
		return nil, err
	}

	return decodeAttendee(eventID, doc)
}

// CreateTx 寫入新報名者。呼叫前必須先以 FindTx 確認不存在，提交時才會檢查 key 仍未被建立
func (r *AttendeeRepositoryImpl) CreateTx(ctx context.Context, tx *txn.Tx, attendee *model.Attendee) error {
	return r.put(tx, attendee)
}

func (r *AttendeeRepositoryImpl) SaveTx(ctx context.Context, tx *txn.Tx, attendee *model.Attendee) error {
	return r.put(tx, attendee)
}

func (r *AttendeeRepositoryImpl) DeleteTx(ctx context.Context, tx *txn.Tx, eventID, userID string) error {
	key, err := attendeeKey(eventID, userID)
	if err != nil {
		return err
	}
	tx.Delete(key)
	return nil
}

func (r *AttendeeRepositoryImpl) put(tx *txn.Tx, attendee *model.Attendee) error {
	key, err := attendeeKey(attendee.EventID, attendee.UserID)
	if err != nil {
		return err
	}

	body, err := encode(attendee)
	if err != nil {
		return err
	}
	tx.Put(key, body)
	return nil
}

func decodeAttendee(eventID string, doc *store.Document) (*model.Attendee, error) {
	attendee, err := decode[model.Attendee](doc)
	if err != nil {
		return nil, err
	}
	if attendee.EventID == "" {
		attendee.EventID = eventID
	}
	if attendee.UserID == "" {
		attendee.UserID = doc.Key[len(store.CollectionOf(doc.Key))+1:]
	}
	return attendee, nil
}

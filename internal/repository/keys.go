package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"go-gin-event-registration/internal/store"
	apperrors "go-gin-event-registration/pkg/app_errors"
)

const eventsCollection = "events"

// events/{eventId}
func eventKey(eventID string) (string, error) {
	key, err := store.Key(eventsCollection, eventID)
	if err != nil {
		return "", apperrors.ErrInvalidID
	}
	return key, nil
}

// events/{eventId}/attendees/{userId}
func attendeeKey(eventID, userID string) (string, error) {
	key, err := store.Key(eventsCollection, eventID, "attendees", userID)
	if err != nil {
		return "", apperrors.ErrInvalidID
	}
	return key, nil
}

func attendeesCollection(eventID string) (string, error) {
	key, err := store.Key(eventsCollection, eventID, "attendees")
	if err != nil {
		return "", apperrors.ErrInvalidID
	}
	return key, nil
}

func decode[T any](doc *store.Document) (*T, error) {
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc.Key, err)
	}
	return &v, nil
}

func encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return body, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

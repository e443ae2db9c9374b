// Package mocks provides testify mocks of the service interfaces for
// handler and worker tests.
package mocks

import (
	"context"

	"go-gin-event-registration/internal/model"

	"github.com/stretchr/testify/mock"
)

type RegistrationServiceMock struct {
	mock.Mock
}

func NewRegistrationServiceMock() *RegistrationServiceMock {
	return &RegistrationServiceMock{}
}

func (m *RegistrationServiceMock) AddAttendee(ctx context.Context, params model.AddAttendeeParams) (*model.Attendee, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attendee), args.Error(1)
}

func (m *RegistrationServiceMock) ListAttendees(ctx context.Context, eventID string) ([]*model.Attendee, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Attendee), args.Error(1)
}

func (m *RegistrationServiceMock) CheckInAttendee(ctx context.Context, eventID, userID string) (*model.Attendee, error) {
	args := m.Called(ctx, eventID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Attendee), args.Error(1)
}

func (m *RegistrationServiceMock) CancelAttendee(ctx context.Context, eventID, userID string) error {
	args := m.Called(ctx, eventID, userID)
	return args.Error(0)
}

func (m *RegistrationServiceMock) RemoveAttendee(ctx context.Context, eventID, userID string) error {
	args := m.Called(ctx, eventID, userID)
	return args.Error(0)
}

type EventServiceMock struct {
	mock.Mock
}

func NewEventServiceMock() *EventServiceMock {
	return &EventServiceMock{}
}

func (m *EventServiceMock) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *EventServiceMock) List(ctx context.Context, filter model.ListEventsFilter) ([]*model.Event, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Event), args.Error(1)
}

func (m *EventServiceMock) Get(ctx context.Context, eventID string) (*model.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *EventServiceMock) Update(ctx context.Context, eventID string, req model.UpdateEventRequest) (*model.Event, error) {
	args := m.Called(ctx, eventID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *EventServiceMock) Archive(ctx context.Context, eventID string) (*model.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *EventServiceMock) GetAvailability(ctx context.Context, eventID string) (*model.SeatAvailability, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SeatAvailability), args.Error(1)
}

func (m *EventServiceMock) RefreshAvailability(ctx context.Context, eventID string) (*model.SeatAvailability, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SeatAvailability), args.Error(1)
}

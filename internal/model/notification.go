package model

import "time"

type NotificationType string

const (
	NotificationAttendeeAdded     NotificationType = "attendee_added"
	NotificationAttendeeCheckedIn NotificationType = "attendee_checked_in"
	NotificationAttendeeCanceled  NotificationType = "attendee_canceled"
	NotificationAttendeeRemoved   NotificationType = "attendee_removed"
	NotificationEventCreated      NotificationType = "event_created"
	NotificationEventUpdated      NotificationType = "event_updated"
	NotificationEventArchived     NotificationType = "event_archived"
)

// Notification 在交易提交成功後發送，只攜帶識別資料；消費者需自行重新讀取最新狀態
type Notification struct {
	Type       NotificationType `json:"type"`
	EventID    string           `json:"event_id"`
	UserID     string           `json:"user_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// SeatAvailability 活動剩餘名額快照（快取用）。Version 是讀取時的活動文件版本，
// 快取以它判斷新舊
type SeatAvailability struct {
	EventID        string      `json:"event_id"`
	Capacity       int         `json:"capacity"`
	AttendeesCount int         `json:"attendees_count"`
	Remaining      int         `json:"remaining"`
	Status         EventStatus `json:"status"`
	Version        int64       `json:"version"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func NewSeatAvailability(e *Event, now time.Time) *SeatAvailability {
	status := e.Status
	if status == "" {
		status = EventStatusOpen
	}
	return &SeatAvailability{
		EventID:        e.ID,
		Capacity:       e.Capacity,
		AttendeesCount: e.AttendeesCount,
		Remaining:      e.RemainingSeats(),
		Status:         status,
		Version:        e.Version,
		UpdatedAt:      now,
	}
}

package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// AttendeeStatus 報名狀態類型
type AttendeeStatus string

const (
	AttendeeStatusRegistered AttendeeStatus = "registered"
	AttendeeStatusCheckedIn  AttendeeStatus = "checked_in"
	AttendeeStatusCanceled   AttendeeStatus = "canceled"
)

const AttendeeRole = "attendee"

// IsValid 驗證狀態是否有效
func (s AttendeeStatus) IsValid() bool {
	switch s {
	case AttendeeStatusRegistered, AttendeeStatusCheckedIn, AttendeeStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo 檢查是否可以轉換到目標狀態
func (s AttendeeStatus) CanTransitionTo(target AttendeeStatus) bool {
	transitions := map[AttendeeStatus][]AttendeeStatus{
		AttendeeStatusRegistered: {AttendeeStatusCheckedIn, AttendeeStatusCanceled},
		AttendeeStatusCheckedIn:  {AttendeeStatusCanceled},
		AttendeeStatusCanceled:   {}, // 不能轉換到任何狀態
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == target {
			return true
		}
	}
	return false
}

// OccupiesSeat reports whether an attendee in this status counts toward
// the event's attendees_count.
func (s AttendeeStatus) OccupiesSeat() bool {
	return s == AttendeeStatusRegistered || s == AttendeeStatusCheckedIn
}

type TicketType string

const (
	TicketTypeMember TicketType = "member"
	TicketTypeGuest  TicketType = "guest"
)

// NormalizeTicketType 只有完全等於 "member" 才是會員票，其餘一律 guest
func NormalizeTicketType(s string) TicketType {
	if s == string(TicketTypeMember) {
		return TicketTypeMember
	}
	return TicketTypeGuest
}

// Attendee 報名者，key 為 (EventID, UserID)
type Attendee struct {
	EventID      string         `json:"event_id"`
	UserID       string         `json:"user_id"`
	DisplayName  string         `json:"display_name"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	TicketType   TicketType     `json:"ticket_type"`
	PricePaid    float64        `json:"price_paid"`
	Status       AttendeeStatus `json:"status"`
	RegisteredAt time.Time      `json:"registered_at"`
	CheckedInAt  *time.Time     `json:"checked_in_at"`
}

// AddAttendeeRequest 新增報名者請求。price_paid 接受數字或數字字串
type AddAttendeeRequest struct {
	UserID     string `json:"user_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	TicketType string `json:"ticket_type"`
	PricePaid  any    `json:"price_paid"`
}

// AddAttendeeParams is the service input for a new registration.
type AddAttendeeParams struct {
	EventID    string
	UserID     string
	FullName   string
	Email      string
	TicketType string
	PricePaid  float64
}

func (r *AddAttendeeRequest) Params(eventID string) AddAttendeeParams {
	return AddAttendeeParams{
		EventID:    eventID,
		UserID:     r.UserID,
		FullName:   r.FullName,
		Email:      r.Email,
		TicketType: r.TicketType,
		PricePaid:  ParseAmount(r.PricePaid),
	}
}

// ParseAmount converts a decoded JSON value to a number. Anything that is
// not a number or a numeric string yields NaN.
func ParseAmount(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// NormalizeAmount 將負數、NaN、Inf 轉為 0
func NormalizeAmount(f float64) float64 {
	if isNaNOrInf(f) || f < 0 {
		return 0
	}
	return f
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

package model

import (
	"strings"
	"time"
)

// EventStatus 活動狀態類型
type EventStatus string

const (
	EventStatusOpen     EventStatus = "open"
	EventStatusClosed   EventStatus = "closed"
	EventStatusCanceled EventStatus = "canceled"
)

// AttendeesCountField 是 Event 文件中報名人數欄位的 JSON 名稱，供原子遞增使用
const AttendeesCountField = "attendees_count"

const (
	DefaultEventListLimit = 50
	MaxEventListLimit     = 200
	DefaultCreatedBy      = "Admin"
)

// IsValid 驗證狀態是否有效
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusOpen, EventStatusClosed, EventStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo 檢查是否可以轉換到目標狀態；canceled 為封存狀態
func (s EventStatus) CanTransitionTo(target EventStatus) bool {
	if s == target {
		return true
	}

	transitions := map[EventStatus][]EventStatus{
		EventStatusOpen:     {EventStatusClosed, EventStatusCanceled},
		EventStatusClosed:   {EventStatusOpen, EventStatusCanceled},
		EventStatusCanceled: {},
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

// Event 活動模型，AttendeesCount 只能在異動報名者的同一筆交易中修改
type Event struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Type           string      `json:"type"`
	Location       string      `json:"location"`
	Overview       string      `json:"overview"`
	Description    string      `json:"description"`
	Capacity       int         `json:"capacity"`
	AttendeesCount int         `json:"attendees_count"`
	Status         EventStatus `json:"status"`
	StartsAt       *time.Time  `json:"starts_at,omitempty"`
	EndsAt         *time.Time  `json:"ends_at,omitempty"`
	MemberPrice    float64     `json:"member_price"`
	GuestPrice     float64     `json:"guest_price"`
	CreatedBy      string      `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	// Version 文件版本，由 repository 讀取時填入，不寫回文件
	Version int64 `json:"-"`
}

// IsOpen 未設定狀態的舊資料視為 open
func (e *Event) IsOpen() bool {
	return e.Status == "" || e.Status == EventStatusOpen
}

func (e *Event) IsFull() bool {
	return e.AttendeesCount >= e.Capacity
}

func (e *Event) RemainingSeats() int {
	if e.AttendeesCount >= e.Capacity {
		return 0
	}
	return e.Capacity - e.AttendeesCount
}

// CreateEventRequest 建立活動請求
type CreateEventRequest struct {
	Title       string     `json:"title"`
	Type        string     `json:"type"`
	Location    string     `json:"location"`
	Overview    string     `json:"overview"`
	Description string     `json:"description"`
	Capacity    *int       `json:"capacity"`
	MemberPrice *float64   `json:"member_price"`
	GuestPrice  *float64   `json:"guest_price"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"created_by"`
}

// Normalize trims text fields and applies defaults.
func (r *CreateEventRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Type = strings.TrimSpace(r.Type)
	r.Location = strings.TrimSpace(r.Location)
	r.Overview = strings.TrimSpace(r.Overview)
	r.Description = strings.TrimSpace(r.Description)
	r.CreatedBy = strings.TrimSpace(r.CreatedBy)
	if r.CreatedBy == "" {
		r.CreatedBy = DefaultCreatedBy
	}
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	if r.Status == "" {
		r.Status = string(EventStatusOpen)
	}
}

// Validate 回傳所有欄位錯誤（空代表通過），需先呼叫 Normalize
func (r *CreateEventRequest) Validate() []string {
	var errs []string
	if r.Title == "" {
		errs = append(errs, "title is required")
	}
	if r.Type == "" {
		errs = append(errs, "type is required")
	}
	if r.Location == "" {
		errs = append(errs, "location is required")
	}
	if r.Capacity == nil || *r.Capacity < 0 {
		errs = append(errs, "capacity must be a non-negative number")
	}
	if !validAmount(r.MemberPrice) {
		errs = append(errs, "member_price must be a non-negative number")
	}
	if !validAmount(r.GuestPrice) {
		errs = append(errs, "guest_price must be a non-negative number")
	}
	if !EventStatus(r.Status).IsValid() {
		errs = append(errs, "status must be one of open, closed, canceled")
	}
	if !validSchedule(r.StartsAt, r.EndsAt) {
		errs = append(errs, "ends_at must be after starts_at")
	}
	return errs
}

// UpdateEventRequest PATCH 語意：只更新有帶的欄位
type UpdateEventRequest struct {
	Title       *string    `json:"title"`
	Type        *string    `json:"type"`
	Location    *string    `json:"location"`
	Overview    *string    `json:"overview"`
	Description *string    `json:"description"`
	Capacity    *int       `json:"capacity"`
	MemberPrice *float64   `json:"member_price"`
	GuestPrice  *float64   `json:"guest_price"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Status      *string    `json:"status"`
}

func (r *UpdateEventRequest) Validate() []string {
	var errs []string
	if r.Capacity != nil && *r.Capacity < 0 {
		errs = append(errs, "capacity must be a non-negative number")
	}
	if r.MemberPrice != nil && !validAmount(r.MemberPrice) {
		errs = append(errs, "member_price must be a non-negative number")
	}
	if r.GuestPrice != nil && !validAmount(r.GuestPrice) {
		errs = append(errs, "guest_price must be a non-negative number")
	}
	if r.Status != nil && !EventStatus(strings.ToLower(strings.TrimSpace(*r.Status))).IsValid() {
		errs = append(errs, "status must be one of open, closed, canceled")
	}
	return errs
}

// ApplyTo copies the present fields onto e. Capacity and status changes are
// checked by the caller against the stored document.
func (r *UpdateEventRequest) ApplyTo(e *Event) {
	if r.Title != nil {
		e.Title = strings.TrimSpace(*r.Title)
	}
	if r.Type != nil {
		e.Type = strings.TrimSpace(*r.Type)
	}
	if r.Location != nil {
		e.Location = strings.TrimSpace(*r.Location)
	}
	if r.Overview != nil {
		e.Overview = strings.TrimSpace(*r.Overview)
	}
	if r.Description != nil {
		e.Description = strings.TrimSpace(*r.Description)
	}
	if r.Capacity != nil {
		e.Capacity = *r.Capacity
	}
	if r.MemberPrice != nil {
		e.MemberPrice = *r.MemberPrice
	}
	if r.GuestPrice != nil {
		e.GuestPrice = *r.GuestPrice
	}
	if r.StartsAt != nil {
		t := r.StartsAt.UTC()
		e.StartsAt = &t
	}
	if r.EndsAt != nil {
		t := r.EndsAt.UTC()
		e.EndsAt = &t
	}
	if r.Status != nil {
		e.Status = EventStatus(strings.ToLower(strings.TrimSpace(*r.Status)))
	}
}

// ValidateEvent checks the fields every stored event must satisfy.
func ValidateEvent(e *Event) []string {
	var errs []string
	if e.Title == "" {
		errs = append(errs, "title is required")
	}
	if e.Type == "" {
		errs = append(errs, "type is required")
	}
	if e.Location == "" {
		errs = append(errs, "location is required")
	}
	if !validSchedule(e.StartsAt, e.EndsAt) {
		errs = append(errs, "ends_at must be after starts_at")
	}
	return errs
}

// ListEventsFilter 活動列表查詢條件
type ListEventsFilter struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=0"`
}

func (f *ListEventsFilter) Normalize() {
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	if f.Limit <= 0 {
		f.Limit = DefaultEventListLimit
	}
	if f.Limit > MaxEventListLimit {
		f.Limit = MaxEventListLimit
	}
}

func validAmount(v *float64) bool {
	return v != nil && *v >= 0 && !isNaNOrInf(*v)
}

func validSchedule(startsAt, endsAt *time.Time) bool {
	if startsAt == nil || endsAt == nil {
		return true
	}
	return endsAt.After(*startsAt)
}

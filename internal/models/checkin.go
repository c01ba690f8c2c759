package models

import (
	"fmt"
	"time"
)

// Location is a resolved geolocation snapshot
type Location struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	IP        string  `json:"ip,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UserCheckInState is the durable check-in state of one user
type UserCheckInState struct {
	UserID              string     `gorm:"primaryKey;type:varchar(64);column:user_id" json:"user_id"`
	ConsecutiveCheckIns int64      `gorm:"not null;column:consecutive_check_ins" json:"consecutive_check_ins"`
	TotalCheckIns       int64      `gorm:"not null;column:total_check_ins" json:"total_check_ins"`
	Points              int64      `gorm:"not null;column:points" json:"points"`
	LastCheckInAt       *time.Time `gorm:"column:last_check_in_at" json:"last_check_in_at,omitempty"`
	LastLocation        *Location  `gorm:"type:jsonb;serializer:json;column:last_location" json:"last_location,omitempty"`
	UpdatedAt           time.Time  `gorm:"not null;column:updated_at" json:"updated_at"`

	CheckInHistory []CheckInRecord `gorm:"foreignKey:UserID;references:UserID" json:"check_in_history,omitempty"`
}

// TableName specifies the table name for UserCheckInState
func (UserCheckInState) TableName() string {
	return "user_check_in_state"
}

// Validate checks the record before it crosses into or out of the durable store
func (u *UserCheckInState) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil check-in state", ErrInvalidRecord)
	}
	if u.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}
	if u.ConsecutiveCheckIns < 0 || u.TotalCheckIns < 0 || u.Points < 0 {
		return fmt.Errorf("%w: user %s has negative totals", ErrInvalidRecord, u.UserID)
	}
	if u.ConsecutiveCheckIns > u.TotalCheckIns {
		return fmt.Errorf("%w: user %s streak %d exceeds total %d",
			ErrInvalidRecord, u.UserID, u.ConsecutiveCheckIns, u.TotalCheckIns)
	}
	if u.TotalCheckIns > 0 && u.LastCheckInAt == nil {
		return fmt.Errorf("%w: user %s has check-ins but no last check-in time", ErrInvalidRecord, u.UserID)
	}
	return nil
}

// CheckInRecord is one entry of a user's append-only check-in history
type CheckInRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	UserID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_check_in_history_user_day;column:user_id" json:"user_id"`
	DayKey      string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_check_in_history_user_day;column:day_key" json:"day_key"`
	CheckedInAt time.Time `gorm:"not null;column:checked_in_at" json:"date"`
	Location    *Location `gorm:"type:jsonb;serializer:json;column:location" json:"location,omitempty"`
}

// TableName specifies the table name for CheckInRecord
func (CheckInRecord) TableName() string {
	return "check_in_history"
}

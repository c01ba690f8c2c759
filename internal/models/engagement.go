package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRecord is returned when a record fails validation at the cache/durable boundary
var ErrInvalidRecord = errors.New("invalid record")

// Counters holds the raw interaction counters of a content item
type Counters struct {
	Views    int64 `gorm:"not null;column:views" json:"views"`
	Likes    int64 `gorm:"not null;column:likes" json:"likes"`
	Comments int64 `gorm:"not null;column:comments" json:"comments"`
	Shares   int64 `gorm:"not null;column:shares" json:"shares"`
}

// Validate rejects negative counters
func (c Counters) Validate() error {
	if c.Views < 0 || c.Likes < 0 || c.Comments < 0 || c.Shares < 0 {
		return fmt.Errorf("%w: negative counter %+v", ErrInvalidRecord, c)
	}
	return nil
}

// ContentEngagement is the durable engagement record of one content item
type ContentEngagement struct {
	ContentID       string    `gorm:"primaryKey;type:varchar(64);column:content_id" json:"content_id"`
	Counters        Counters  `gorm:"embedded" json:"counters"`
	HeatScore       float64   `gorm:"type:double precision;index;column:heat_score" json:"heat_score"`
	LastInteraction time.Time `gorm:"not null;column:last_interaction" json:"last_interaction"`
	CreatedAt       time.Time `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for ContentEngagement
func (ContentEngagement) TableName() string {
	return "content_engagement"
}

// Validate checks the record before it crosses into or out of the durable store
func (c *ContentEngagement) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil content engagement", ErrInvalidRecord)
	}
	if c.ContentID == "" {
		return fmt.Errorf("%w: empty content id", ErrInvalidRecord)
	}
	if err := c.Counters.Validate(); err != nil {
		return fmt.Errorf("content %s: %w", c.ContentID, err)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("%w: content %s has no creation time", ErrInvalidRecord, c.ContentID)
	}
	if math.IsNaN(c.HeatScore) || math.IsInf(c.HeatScore, 0) || c.HeatScore < 0 {
		return fmt.Errorf("%w: content %s has heat score %v", ErrInvalidRecord, c.ContentID, c.HeatScore)
	}
	return nil
}

// LastTouched returns the most recent of lastInteraction, updatedAt and createdAt
func (c *ContentEngagement) LastTouched() time.Time {
	switch {
	case !c.LastInteraction.IsZero():
		return c.LastInteraction
	case !c.UpdatedAt.IsZero():
		return c.UpdatedAt
	default:
		return c.CreatedAt
	}
}

// Package heat folds interaction counters and content age into a decayed popularity score.
package heat

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/config"
)

var (
	// ErrUnknownKind is returned for an interaction kind outside view/like/comment/share
	ErrUnknownKind = errors.New("unknown interaction kind")
	// ErrNotFound is returned when the store holds nothing for a content ID
	ErrNotFound = errors.New("content not found")
)

// Kind is an interaction kind
type Kind string

const (
	KindView    Kind = "view"
	KindLike    Kind = "like"
	KindComment Kind = "comment"
	KindShare   Kind = "share"
)

// Kinds lists every interaction kind in counter order
var Kinds = []Kind{KindView, KindLike, KindComment, KindShare}

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindView, KindLike, KindComment, KindShare:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Metric returns the counter name of the kind ("views", "likes", ...)
func (k Kind) Metric() string {
	return string(k) + "s"
}

// Weights are the per-kind multipliers and the daily decay rate
type Weights struct {
	View      float64
	Like      float64
	Comment   float64
	Share     float64
	DecayRate float64
}

// DefaultWeights returns 1/5/10/15 with 5% decay per day
func DefaultWeights() Weights {
	return Weights{View: 1, Like: 5, Comment: 10, Share: 15, DecayRate: 0.05}
}

// WeightsFromConfig reads weights from the heat configuration
func WeightsFromConfig(cfg *config.HeatConfig) Weights {
	return Weights{
		View:      cfg.ViewWeight,
		Like:      cfg.LikeWeight,
		Comment:   cfg.CommentWeight,
		Share:     cfg.ShareWeight,
		DecayRate: cfg.DecayRate,
	}
}

// Raw is the undecayed weighted sum of counters
func (w Weights) Raw(c models.Counters) float64 {
	return float64(c.Views)*w.View +
		float64(c.Likes)*w.Like +
		float64(c.Comments)*w.Comment +
		float64(c.Shares)*w.Share
}

// Score computes raw * exp(-decay * ageDays); age is clamped at zero so future
// creation times do not inflate the score.
func (w Weights) Score(c models.Counters, createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return w.Raw(c) * math.Exp(-w.DecayRate*ageDays)
}

func counterFor(c *models.Counters, k Kind) *int64 {
	switch k {
	case KindView:
		return &c.Views
	case KindLike:
		return &c.Likes
	case KindComment:
		return &c.Comments
	default:
		return &c.Shares
	}
}

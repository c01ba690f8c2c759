// Package checkin enforces one check-in per user per calendar day and keeps
// the streak, totals and points ledger in the counter store.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/pkg/logging"
	"github.com/steemit/pulse/pkg/telemetry"
)

// ReasonAlreadyCheckedIn is reported to clients when today's check-in exists
const ReasonAlreadyCheckedIn = "already-checked-in"

const (
	defaultMaxAttempts = 5
	defaultLocationTTL = 24 * time.Hour
)

var (
	// ErrAlreadyCheckedIn is the business-rule rejection of a second check-in on the same day
	ErrAlreadyCheckedIn = errors.New(ReasonAlreadyCheckedIn)
	// ErrContention is returned when the optimistic transaction kept losing its watch
	ErrContention = errors.New("check-in contention")
	// ErrNotFound is returned by Snapshot for a user with no cached state
	ErrNotFound = errors.New("user not found")
)

// Notifier receives user IDs whose check-in state changed
type Notifier interface {
	EnqueueUser(userID string)
}

// Result is a successful check-in
type Result struct {
	Success             bool             `json:"success"`
	ConsecutiveCheckIns int64            `json:"consecutive_check_ins"`
	PointsAwarded       int64            `json:"points_awarded"`
	TotalPoints         int64            `json:"total_points"`
	TotalCheckIns       int64            `json:"total_check_ins"`
	CheckedInAt         time.Time        `json:"checked_in_at"`
	Location            *models.Location `json:"location,omitempty"`
	Message             string           `json:"message"`
}

// Status is the user's state as of one atomic read
type Status struct {
	ConsecutiveCheckIns int64      `json:"consecutive_check_ins"`
	TotalCheckIns       int64      `json:"total_check_ins"`
	Points              int64      `json:"points"`
	LastCheckInAt       *time.Time `json:"last_check_in_at"`
	HasCheckedInToday   bool       `json:"has_checked_in_today"`
}

// Engine runs check-ins against the counter store
type Engine struct {
	cache       *cache.Cache
	keys        cache.Keys
	rules       Rules
	calendar    Calendar
	now         func() time.Time
	locationTTL time.Duration
	maxAttempts int
	notifier    Notifier
	logger      *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCalendar sets the location day keys are computed in
func WithCalendar(loc *time.Location) Option {
	return func(e *Engine) { e.calendar = NewCalendar(loc) }
}

// WithLocationTTL sets the expiry of the location stored with a check-in
func WithLocationTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.locationTTL = ttl
		}
	}
}

// WithNotifier registers the sync handoff
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine creates a check-in engine
func NewEngine(c *cache.Cache, rules Rules, opts ...Option) *Engine {
	e := &Engine{
		cache:       c,
		keys:        c.Keys(),
		rules:       rules,
		calendar:    NewCalendar(nil),
		now:         time.Now,
		locationTTL: defaultLocationTTL,
		maxAttempts: defaultMaxAttempts,
		logger:      logging.GetLogger().With(zap.String("component", "checkin")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetNotifier registers the sync handoff after construction
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Calendar returns the calendar day keys are computed in
func (e *Engine) Calendar() Calendar {
	return e.calendar
}

// CheckIn records today's check-in. The day-log membership test, streak
// decision and every write commit in one WATCH/MULTI transaction; a lost watch
// re-evaluates, so concurrent callers on the same day see ErrAlreadyCheckedIn.
func (e *Engine) CheckIn(ctx context.Context, userID string, loc *models.Location) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", models.ErrInvalidRecord)
	}
	ctx, span := telemetry.StartSpan(ctx, "checkin.CheckIn")
	defer span.End()

	var locJSON []byte
	if loc != nil {
		var err error
		if locJSON, err = json.Marshal(loc); err != nil {
			return nil, fmt.Errorf("encode location: %w", err)
		}
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		now := e.now()
		res, err := e.attempt(ctx, userID, now, loc, locJSON)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			e.logger.Debug("Check-in watch lost, retrying",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt))
			continue
		case errors.Is(err, ErrAlreadyCheckedIn):
			e.count(ctx, "already")
			return nil, err
		case err != nil:
			e.count(ctx, "error")
			span.RecordError(err)
			return nil, err
		}

		e.count(ctx, "success")
		if e.notifier != nil {
			e.notifier.EnqueueUser(userID)
		}
		return res, nil
	}

	e.count(ctx, "contention")
	return nil, fmt.Errorf("%w: user %s after %d attempts", ErrContention, userID, e.maxAttempts)
}

func (e *Engine) attempt(ctx context.Context, userID string, now time.Time, loc *models.Location, locJSON []byte) (*Result, error) {
	var (
		logKey   = e.keys.UserCheckIn(userID)
		lastKey  = e.keys.UserLastCheckIn(userID)
		consKey  = e.keys.UserConsecutive(userID)
		day      = e.calendar.DayKey(now)
		already  bool
		res      *Result
		totalCmd *redis.IntCmd
		ptsCmd   *redis.IntCmd
	)

	err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Watch(ctx, func(tx *redis.Tx) error {
			member, err := tx.SIsMember(ctx, logKey, day).Result()
			if err != nil {
				return err
			}
			last, hasLast, err := getInt(ctx, tx, lastKey)
			if err != nil {
				return err
			}
			prev, _, err := getInt(ctx, tx, consKey)
			if err != nil {
				return err
			}

			lastAt := time.UnixMilli(last)
			if member || (hasLast && e.calendar.SameDay(lastAt, now)) {
				already = true
				return nil
			}

			streak := int64(1)
			if hasLast && e.calendar.IsYesterday(lastAt, now) {
				streak = prev + 1
			}
			awarded := e.rules.Points(streak)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SAdd(ctx, logKey, day)
				pipe.Set(ctx, lastKey, now.UnixMilli(), 0)
				totalCmd = pipe.Incr(ctx, e.keys.UserTotalCheckIns(userID))
				pipe.Set(ctx, consKey, streak, 0)
				ptsCmd = pipe.IncrBy(ctx, e.keys.UserPoints(userID), awarded)
				if locJSON != nil {
					pipe.Set(ctx, e.keys.UserLocation(userID), locJSON, e.locationTTL)
				}
				return nil
			})
			if err != nil {
				return err
			}

			res = &Result{
				Success:             true,
				ConsecutiveCheckIns: streak,
				PointsAwarded:       awarded,
				CheckedInAt:         now,
				Location:            loc,
				Message:             fmt.Sprintf("check-in successful: +%d points, streak %d day(s)", awarded, streak),
			}
			return nil
		}, logKey, lastKey, consKey)
	})
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrAlreadyCheckedIn
	}
	res.TotalCheckIns = totalCmd.Val()
	res.TotalPoints = ptsCmd.Val()
	return res, nil
}

func (e *Engine) count(ctx context.Context, outcome string) {
	telemetry.Count(ctx, telemetry.Metrics().CheckIns, "outcome", outcome)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getInt(ctx context.Context, c getter, key string) (int64, bool, error) {
	n, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

type stateCmds struct {
	consecutive *redis.StringCmd
	total       *redis.StringCmd
	points      *redis.StringCmd
	last        *redis.StringCmd
	today       *redis.BoolCmd
	days        *redis.StringSliceCmd
	location    *redis.StringCmd
}

// readState fetches every user key in one MULTI so the view is consistent with CheckIn
func (e *Engine) readState(ctx context.Context, userID string, now time.Time) (*stateCmds, error) {
	cmds := &stateCmds{}
	err := e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			cmds.consecutive = pipe.Get(ctx, e.keys.UserConsecutive(userID))
			cmds.total = pipe.Get(ctx, e.keys.UserTotalCheckIns(userID))
			cmds.points = pipe.Get(ctx, e.keys.UserPoints(userID))
			cmds.last = pipe.Get(ctx, e.keys.UserLastCheckIn(userID))
			cmds.today = pipe.SIsMember(ctx, e.keys.UserCheckIn(userID), e.calendar.DayKey(now))
			cmds.days = pipe.SMembers(ctx, e.keys.UserCheckIn(userID))
			cmds.location = pipe.Get(ctx, e.keys.UserLocation(userID))
			return nil
		})
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return cmds, nil
}

func optInt(cmd *redis.StringCmd) (int64, bool, error) {
	s, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil, err
}

func (c *stateCmds) decode(userID string) (*models.UserCheckInState, bool, error) {
	state := &models.UserCheckInState{UserID: userID}
	known := false
	for _, f := range []struct {
		cmd *redis.StringCmd
		dst *int64
	}{
		{c.consecutive, &state.ConsecutiveCheckIns},
		{c.total, &state.TotalCheckIns},
		{c.points, &state.Points},
	} {
		n, ok, err := optInt(f.cmd)
		if err != nil {
			return nil, false, fmt.Errorf("user %s: %w", userID, err)
		}
		*f.dst = n
		known = known || ok
	}
	ms, ok, err := optInt(c.last)
	if err != nil {
		return nil, false, fmt.Errorf("user %s last check-in: %w", userID, err)
	}
	if ok {
		t := time.UnixMilli(ms)
		state.LastCheckInAt = &t
		known = true
	}
	if raw, err := c.location.Bytes(); err == nil {
		var loc models.Location
		if json.Unmarshal(raw, &loc) == nil {
			state.LastLocation = &loc
		}
	}
	return state, known, nil
}

// GetStatus returns the user's totals; unknown users get zeros
func (e *Engine) GetStatus(ctx context.Context, userID string) (*Status, error) {
	now := e.now()
	cmds, err := e.readState(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	state, _, err := cmds.decode(userID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		ConsecutiveCheckIns: state.ConsecutiveCheckIns,
		TotalCheckIns:       state.TotalCheckIns,
		Points:              state.Points,
		LastCheckInAt:       state.LastCheckInAt,
		HasCheckedInToday:   cmds.today.Val(),
	}
	if !st.HasCheckedInToday && st.LastCheckInAt != nil {
		st.HasCheckedInToday = e.calendar.SameDay(*st.LastCheckInAt, now)
	}
	return st, nil
}

// Snapshot returns the cache-resident state of a user as a durable record, with
// its check-in history rebuilt from the day log
func (e *Engine) Snapshot(ctx context.Context, userID string) (*models.UserCheckInState, error) {
	now := e.now()
	cmds, err := e.readState(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	state, known, err := cmds.decode(userID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	state.CheckInHistory = e.history(state, cmds.days.Val())
	state.UpdatedAt = now
	return state, nil
}

// history rebuilds check-in records from the day log, oldest first. The last
// check-in keeps its instant and location; earlier days start at midnight.
func (e *Engine) history(state *models.UserCheckInState, days []string) []models.CheckInRecord {
	lastDay := ""
	if state.LastCheckInAt != nil {
		lastDay = e.calendar.DayKey(*state.LastCheckInAt)
	}
	recs := make([]models.CheckInRecord, 0, len(days))
	for _, day := range days {
		rec := models.CheckInRecord{UserID: state.UserID, DayKey: day}
		if day == lastDay {
			rec.CheckedInAt = *state.LastCheckInAt
			rec.Location = state.LastLocation
		} else {
			start, err := e.calendar.ParseDayKey(day)
			if err != nil {
				e.logger.Warn("Skipping malformed day key", zap.String("user_id", state.UserID), zap.Error(err))
				continue
			}
			rec.CheckedInAt = start
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CheckedInAt.Before(recs[j].CheckedInAt) })
	return recs
}

// SeedUser fills the store with a durable user state, back-filling the day log
// from its check-in history and the last location under the location TTL. A
// user whose counters are already cached is left alone, so seeding never rolls
// back check-ins the durable store has not seen yet; seeded reports whether
// anything was written.
func (e *Engine) SeedUser(ctx context.Context, state *models.UserCheckInState) (seeded bool, err error) {
	if err := state.Validate(); err != nil {
		return false, err
	}

	days := make([]interface{}, 0, len(state.CheckInHistory)+1)
	for _, h := range state.CheckInHistory {
		key := h.DayKey
		if key == "" {
			key = e.calendar.DayKey(h.CheckedInAt)
		}
		days = append(days, key)
	}
	if state.LastCheckInAt != nil {
		days = append(days, e.calendar.DayKey(*state.LastCheckInAt))
	}

	var locJSON []byte
	if state.LastLocation != nil {
		if locJSON, err = json.Marshal(state.LastLocation); err != nil {
			return false, fmt.Errorf("encode location: %w", err)
		}
	}

	userID := state.UserID
	guarded := []string{
		e.keys.UserConsecutive(userID),
		e.keys.UserTotalCheckIns(userID),
		e.keys.UserPoints(userID),
		e.keys.UserLastCheckIn(userID),
	}
	err = e.cache.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, guarded...).Result()
			if err != nil || n > 0 {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, e.keys.UserConsecutive(userID), state.ConsecutiveCheckIns, 0)
				pipe.Set(ctx, e.keys.UserTotalCheckIns(userID), state.TotalCheckIns, 0)
				pipe.Set(ctx, e.keys.UserPoints(userID), state.Points, 0)
				if state.LastCheckInAt != nil {
					pipe.Set(ctx, e.keys.UserLastCheckIn(userID), state.LastCheckInAt.UnixMilli(), 0)
				}
				if len(days) > 0 {
					pipe.SAdd(ctx, e.keys.UserCheckIn(userID), days...)
				}
				if locJSON != nil {
					pipe.SetNX(ctx, e.keys.UserLocation(userID), locJSON, e.locationTTL)
				}
				return nil
			})
			if err == nil {
				seeded = true
			}
			return err
		}, guarded...)
	})
	// A lost watch means a check-in landed first; the cache is authoritative
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return seeded, nil
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type scheduleOpts struct {
	AllowedHours []int    `opt:"allowed_hours"` // empty = no constraint
	AllowedDays  []int    `opt:"allowed_days"`   // time.Weekday values; empty = no constraint
	QuietStart   int      `opt:"quiet_start"`    // hour, -1 disables
	QuietEnd     int      `opt:"quiet_end"`      // hour
	SkipDates    []string `opt:"skip_dates"`     // YYYY-MM-DD
	AllowDates   []string `opt:"allow_dates"`    // overrides skip/quiet for that date
	SkipRanges   []dateRange `opt:"skip_ranges"`

	MinInterval time.Duration `opt:"min_interval"`
	MaxPerHour  int           `opt:"max_per_hour"`
	MaxPerDay   int           `opt:"max_per_day"`

	Action   string        `opt:"action"` // skip|delay|queue
	DelayCap time.Duration `opt:"delay_cap"`
}

type dateRange struct {
	Start string `opt:"start"`
	End   string `opt:"end"`
}

type scheduleStage struct {
	opts scheduleOpts

	mu       sync.Mutex
	lastSent time.Time
	hourly   []time.Time
	daily    []time.Time
}

func init() {
	RegisterStageKind("schedule", func(opts map[string]any) (Stage, error) {
		var o scheduleOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Action == "" {
			o.Action = "skip"
		}
		if o.QuietStart == 0 && o.QuietEnd == 0 {
			o.QuietStart, o.QuietEnd = -1, -1
		}
		return &scheduleStage{opts: o}, nil
	})
}

func (s *scheduleStage) Name() string { return "schedule" }

// inQuietHours reports whether hour falls in [start,end), wrapping past
// midnight when start > end (e.g. 22 -> 6 covers 22,23,0..5).
func inQuietHours(hour, start, end int) bool {
	if start < 0 || end < 0 {
		return false
	}
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func (s *scheduleStage) allowedOverride(now time.Time) bool {
	key := dateKey(now)
	for _, d := range s.opts.AllowDates {
		if d == key {
			return true
		}
	}
	return false
}

func (s *scheduleStage) dateSkipped(now time.Time) bool {
	key := dateKey(now)
	for _, d := range s.opts.SkipDates {
		if d == key {
			return true
		}
	}
	for _, r := range s.opts.SkipRanges {
		if key >= r.Start && key <= r.End {
			return true
		}
	}
	return false
}

func (s *scheduleStage) hourAllowed(hour int) bool {
	if len(s.opts.AllowedHours) == 0 {
		return true
	}
	for _, h := range s.opts.AllowedHours {
		if h == hour {
			return true
		}
	}
	return false
}

func (s *scheduleStage) dayAllowed(day time.Weekday) bool {
	if len(s.opts.AllowedDays) == 0 {
		return true
	}
	for _, d := range s.opts.AllowedDays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// evaluate reports whether now is blocked, and if so a human-readable reason.
func (s *scheduleStage) evaluate(now time.Time) (blocked bool, reason string) {
	if s.allowedOverride(now) {
		return false, ""
	}
	if s.dateSkipped(now) {
		return true, "schedule: date is on the skip list"
	}
	if inQuietHours(now.Hour(), s.opts.QuietStart, s.opts.QuietEnd) {
		return true, fmt.Sprintf("schedule: quiet hours %02d:00-%02d:00", s.opts.QuietStart, s.opts.QuietEnd)
	}
	if !s.hourAllowed(now.Hour()) {
		return true, "schedule: hour not in allowed_hours"
	}
	if !s.dayAllowed(now.Weekday()) {
		return true, "schedule: day not in allowed_days"
	}
	return false, ""
}

func (s *scheduleStage) rateBlocked(now time.Time) (blocked bool, wait time.Duration) {
	if s.opts.MinInterval > 0 && !s.lastSent.IsZero() {
		next := s.lastSent.Add(s.opts.MinInterval)
		if now.Before(next) {
			return true, next.Sub(now)
		}
	}

	s.hourly = pruneBefore(s.hourly, now.Add(-time.Hour))
	if s.opts.MaxPerHour > 0 && len(s.hourly) >= s.opts.MaxPerHour {
		return true, s.hourly[0].Add(time.Hour).Sub(now)
	}

	s.daily = pruneBefore(s.daily, now.Add(-24*time.Hour))
	if s.opts.MaxPerDay > 0 && len(s.daily) >= s.opts.MaxPerDay {
		return true, s.daily[0].Add(24 * time.Hour).Sub(now)
	}

	return false, 0
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

func (s *scheduleStage) record(now time.Time) {
	s.lastSent = now
	s.hourly = append(s.hourly, now)
	s.daily = append(s.daily, now)
}

func (s *scheduleStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if blocked, reason := s.evaluate(now); blocked {
		return s.handleBlocked(ctx, mctx, next, reason, 0)
	}

	if blocked, wait := s.rateBlocked(now); blocked {
		return s.handleBlocked(ctx, mctx, next, "schedule: rate budget exhausted", wait)
	}

	s.record(now)
	return next(ctx)
}

func (s *scheduleStage) handleBlocked(ctx context.Context, mctx *Context, next Next, reason string, wait time.Duration) error {
	switch s.opts.Action {
	case "skip":
		mctx.Skip = true
		mctx.SkipReason = reason
		return nil
	case "delay":
		return s.delay(ctx, mctx, next, wait, reason)
	case "queue":
		// queue: delay if the wait is short, otherwise skip outright.
		if wait > 0 && (s.opts.DelayCap == 0 || wait <= s.opts.DelayCap) {
			return s.delay(ctx, mctx, next, wait, reason)
		}
		mctx.Skip = true
		mctx.SkipReason = reason
		return nil
	default:
		return fmt.Errorf("schedule: unknown action %q", s.opts.Action)
	}
}

func (s *scheduleStage) delay(ctx context.Context, mctx *Context, next Next, wait time.Duration, reason string) error {
	if wait <= 0 {
		wait = time.Minute
	}
	if s.opts.DelayCap > 0 && wait > s.opts.DelayCap {
		mctx.Skip = true
		mctx.SkipReason = reason + " (exceeds delay cap)"
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	s.record(time.Now().UTC())
	return next(ctx)
}

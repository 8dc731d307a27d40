// Package schedule computes jittered posting times for an account's queue.
//
// Each posting mode maps to a Profile (base interval, symmetric jitter and a
// minimum gap between consecutive actions). A slot for queue position n lands
// roughly (n+1) intervals after the anchor, shifted by jitter, and is then
// pushed forward into the account's active hours.
package schedule

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// Profile is the spacing derived from PostingSettings.
type Profile struct {
	Interval time.Duration
	Jitter   time.Duration
	MinGap   time.Duration
}

// Built-in mode profiles.
var (
	AggressiveProfile = Profile{Interval: 15 * time.Minute, Jitter: 5 * time.Minute, MinGap: 5 * time.Minute}
	SafeProfile       = Profile{Interval: 60 * time.Minute, Jitter: 20 * time.Minute, MinGap: 30 * time.Minute}
)

// ProfileFor resolves the spacing profile for settings. An empty mode means safe.
func ProfileFor(s leadgen.PostingSettings) (Profile, error) {
	switch s.Mode {
	case leadgen.ModeAggressive:
		return AggressiveProfile, nil
	case leadgen.ModeSafe, "":
		return SafeProfile, nil
	case leadgen.ModeCustom:
		if s.IntervalMinutes <= 0 {
			return Profile{}, errors.New("custom mode requires interval_minutes > 0")
		}
		if s.JitterMinutes < 0 || s.JitterMinutes >= s.IntervalMinutes {
			return Profile{}, errors.New("custom mode requires 0 <= jitter_minutes < interval_minutes")
		}
		interval := time.Duration(s.IntervalMinutes) * time.Minute
		return Profile{
			Interval: interval,
			Jitter:   time.Duration(s.JitterMinutes) * time.Minute,
			MinGap:   interval / 2,
		}, nil
	default:
		return Profile{}, fmt.Errorf("unknown posting mode %q", s.Mode)
	}
}

// Validate checks mode, active hours and timezone.
func Validate(s leadgen.PostingSettings) error {
	if _, err := ProfileFor(s); err != nil {
		return err
	}
	if s.ActiveStartHour < 0 || s.ActiveStartHour > 23 {
		return fmt.Errorf("active_start_hour must be within 0-23, got %d", s.ActiveStartHour)
	}
	if s.ActiveEndHour < 0 || s.ActiveEndHour > 23 {
		return fmt.Errorf("active_end_hour must be within 0-23, got %d", s.ActiveEndHour)
	}
	if _, err := location(s.Timezone); err != nil {
		return err
	}
	return nil
}

// JitterSource returns a uniform value in [0, n).
type JitterSource interface {
	Int63n(n int64) int64
}

type cryptoSource struct{}

func (cryptoSource) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return v.Int64()
}

// Calculator places queue positions on the timeline.
type Calculator struct {
	src JitterSource
}

// New returns a Calculator backed by crypto/rand.
func New() *Calculator {
	return &Calculator{src: cryptoSource{}}
}

// NewWithSource returns a Calculator using src for jitter.
func NewWithSource(src JitterSource) *Calculator {
	if src == nil {
		src = cryptoSource{}
	}
	return &Calculator{src: src}
}

// Slot computes the time for the item at position (0-based) of a queue anchored at anchor.
func (c *Calculator) Slot(anchor time.Time, position int, s leadgen.PostingSettings) (time.Time, error) {
	return c.SlotAfter(anchor, position, time.Time{}, s)
}

// SlotAfter is Slot with the extra constraint that the result lands at least
// MinGap after prev. A zero prev disables the constraint.
func (c *Calculator) SlotAfter(
	anchor time.Time,
	position int,
	prev time.Time,
	s leadgen.PostingSettings,
) (time.Time, error) {
	profile, err := ProfileFor(s)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := location(s.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	if position < 0 {
		position = 0
	}
	offset := time.Duration(position+1)*profile.Interval + c.symmetric(profile.Jitter)
	if offset < profile.MinGap {
		offset = profile.MinGap
	}
	slot := anchor.Add(offset)
	if !prev.IsZero() {
		if floor := prev.Add(profile.MinGap); slot.Before(floor) {
			slot = floor
		}
	}
	return c.clamp(slot, s, loc, profile.Jitter), nil
}

// Plan lays out n consecutive slots. Every slot is inside active hours and at
// least MinGap after its predecessor. When a slot is pushed past the active
// window the remaining positions are re-anchored so they keep their spacing
// instead of piling up at the next opening.
func (c *Calculator) Plan(anchor time.Time, n int, s leadgen.PostingSettings) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	profile, err := ProfileFor(s)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	var prev time.Time
	for i := 0; i < n; i++ {
		slot, err := c.SlotAfter(anchor, i, prev, s)
		if err != nil {
			return nil, err
		}
		nominal := anchor.Add(time.Duration(i+1) * profile.Interval)
		if slot.After(nominal.Add(profile.Jitter)) {
			anchor = slot.Add(-time.Duration(i+1) * profile.Interval)
		}
		out = append(out, slot)
		prev = slot
	}
	return out, nil
}

// symmetric returns a uniform duration in [-j, +j] at one-second granularity.
func (c *Calculator) symmetric(j time.Duration) time.Duration {
	if j <= 0 {
		return 0
	}
	secs := int64(j / time.Second)
	return time.Duration(c.src.Int63n(2*secs+1)-secs) * time.Second
}

func (c *Calculator) forward(j time.Duration) time.Duration {
	if j <= 0 {
		return 0
	}
	secs := int64(j / time.Second)
	return time.Duration(c.src.Int63n(secs+1)) * time.Second
}

// clamp moves t to the next opening of the active window when it falls outside it.
func (c *Calculator) clamp(t time.Time, s leadgen.PostingSettings, loc *time.Location, jitter time.Duration) time.Time {
	start, end := s.ActiveStartHour, s.ActiveEndHour
	if start == end {
		return t
	}
	local := t.In(loc)
	if inWindow(local.Hour(), start, end) {
		return t
	}
	opening := time.Date(local.Year(), local.Month(), local.Day(), start, 0, 0, 0, loc)
	if !opening.After(local) {
		opening = opening.AddDate(0, 0, 1)
	}
	if limit := windowLength(start, end) - time.Minute; jitter > limit {
		jitter = limit
	}
	return opening.Add(c.forward(jitter)).In(t.Location())
}

// InActiveHours reports whether t is inside the settings' active window.
func InActiveHours(t time.Time, s leadgen.PostingSettings) bool {
	if s.ActiveStartHour == s.ActiveEndHour {
		return true
	}
	loc, err := location(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return inWindow(t.In(loc).Hour(), s.ActiveStartHour, s.ActiveEndHour)
}

func inWindow(hour, start, end int) bool {
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func windowLength(start, end int) time.Duration {
	hours := end - start
	if hours <= 0 {
		hours += 24
	}
	return time.Duration(hours) * time.Hour
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

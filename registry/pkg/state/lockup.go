package state

import (
	"fmt"
	"math"
)

const (
	SecsPerDay   int64 = 86_400
	SecsPerMonth int64 = 365 * SecsPerDay / 12

	MaxDaysLocked   = 7 * 365
	MaxMonthsLocked = 7 * 12
)

type LockupKind uint8

const (
	LockupKindNone LockupKind = iota
	LockupKindDaily
	LockupKindMonthly
	LockupKindCliff
	LockupKindConstant
)

func (k LockupKind) String() string {
	switch k {
	case LockupKindNone:
		return "none"
	case LockupKindDaily:
		return "daily"
	case LockupKindMonthly:
		return "monthly"
	case LockupKindCliff:
		return "cliff"
	case LockupKindConstant:
		return "constant"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseLockupKind is the inverse of LockupKind.String.
func ParseLockupKind(s string) (LockupKind, error) {
	for k := LockupKindNone; k <= LockupKindConstant; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLockupKind, s)
}

func (k LockupKind) valid() bool {
	return k <= LockupKindConstant
}

// PeriodSecs is the length of one period when a lockup is built from a
// period count. Cliff and constant lockups are measured in days.
func (k LockupKind) PeriodSecs() int64 {
	switch k {
	case LockupKindDaily, LockupKindCliff, LockupKindConstant:
		return SecsPerDay
	case LockupKindMonthly:
		return SecsPerMonth
	default:
		return 0
	}
}

func (k LockupKind) MaxPeriods() uint32 {
	switch k {
	case LockupKindDaily, LockupKindCliff, LockupKindConstant:
		return MaxDaysLocked
	case LockupKindMonthly:
		return MaxMonthsLocked
	default:
		return 0
	}
}

// IsVesting reports whether the kind releases its value in periodic steps.
func (k LockupKind) IsVesting() bool {
	return k == LockupKindDaily || k == LockupKindMonthly
}

// Strictness orders kinds by how long they keep value locked. A lockup may
// only be replaced by one of equal or greater strictness.
func (k LockupKind) Strictness() int {
	switch k {
	case LockupKindDaily:
		return 1
	case LockupKindMonthly:
		return 2
	case LockupKindCliff, LockupKindConstant:
		return 3
	default:
		return 0
	}
}

// Lockup describes how a deposit's value is time-locked. PeriodCount is only
// meaningful for daily and monthly kinds.
type Lockup struct {
	Kind        LockupKind `json:"kind"`
	StartTime   int64      `json:"start_time"`
	EndTime     int64      `json:"end_time"`
	PeriodCount uint32     `json:"period_count,omitempty"`
}

// NewLockup builds and validates a lockup with an explicit schedule.
func NewLockup(kind LockupKind, start, end int64, periodCount uint32) (Lockup, error) {
	l := Lockup{Kind: kind, StartTime: start, EndTime: end}
	if kind.IsVesting() {
		l.PeriodCount = periodCount
	}
	if kind == LockupKindNone {
		l.EndTime = start
	}
	if err := l.Validate(); err != nil {
		return Lockup{}, err
	}
	return l, nil
}

func (l Lockup) Validate() error {
	if !l.Kind.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLockupKind, uint8(l.Kind))
	}
	if l.EndTime < l.StartTime {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidLockupPeriod, l.EndTime, l.StartTime)
	}
	switch l.Kind {
	case LockupKindDaily, LockupKindMonthly:
		if l.PeriodCount == 0 {
			return fmt.Errorf("%w: vesting lockup needs at least one period", ErrInvalidLockupPeriod)
		}
		if l.Duration()%int64(l.PeriodCount) != 0 {
			return fmt.Errorf("%w: duration %d not divisible into %d periods", ErrInvalidLockupPeriod, l.Duration(), l.PeriodCount)
		}
	case LockupKindConstant:
		if l.Duration() == 0 {
			return fmt.Errorf("%w: constant lockup needs a positive duration", ErrInvalidLockupPeriod)
		}
	}
	return nil
}

func (l Lockup) Duration() int64 {
	return l.EndTime - l.StartTime
}

// PeriodSecs is the length of one vesting period, zero for non-vesting kinds.
func (l Lockup) PeriodSecs() int64 {
	if !l.Kind.IsVesting() || l.PeriodCount == 0 {
		return 0
	}
	return l.Duration() / int64(l.PeriodCount)
}

// PeriodsElapsed is floor(P * (now - start) / D) clamped to [0, P].
func (l Lockup) PeriodsElapsed(now int64) uint32 {
	if !l.Kind.IsVesting() || now <= l.StartTime {
		return 0
	}
	if now >= l.EndTime {
		return l.PeriodCount
	}
	k, err := mulDiv(uint64(l.PeriodCount), uint64(now-l.StartTime), uint64(l.Duration()))
	if err != nil || k > uint64(l.PeriodCount) {
		return l.PeriodCount
	}
	return uint32(k)
}

// PeriodsLeft is the number of vesting periods that have not vested yet.
func (l Lockup) PeriodsLeft(now int64) uint32 {
	return l.PeriodCount - l.PeriodsElapsed(now)
}

// VestedFraction returns the vested share of the locked amount as num/den,
// always within [0, 1].
func (l Lockup) VestedFraction(now int64) (num, den uint64) {
	switch l.Kind {
	case LockupKindNone:
		return 1, 1
	case LockupKindCliff:
		if now >= l.EndTime {
			return 1, 1
		}
		return 0, 1
	case LockupKindDaily, LockupKindMonthly:
		if l.PeriodCount == 0 {
			return 1, 1
		}
		return uint64(l.PeriodsElapsed(now)), uint64(l.PeriodCount)
	case LockupKindConstant:
		return 0, 1
	default:
		return 0, 1
	}
}

// SecondsLeft is the remaining lockup duration. It never erodes for
// constant lockups.
func (l Lockup) SecondsLeft(now int64) uint64 {
	switch l.Kind {
	case LockupKindNone:
		return 0
	case LockupKindConstant:
		return uint64(l.Duration())
	default:
		if now >= l.EndTime {
			return 0
		}
		return uint64(l.EndTime - now)
	}
}

// lockedShare is the part of the locked base still locked at t, as num/den.
func (l Lockup) lockedShare(t int64) (num, den uint64) {
	vested, den := l.VestedFraction(t)
	return den - vested, den
}

// releaseTimes lists, in order, the instants after now at which l releases
// value.
func (l Lockup) releaseTimes(now int64) []int64 {
	switch l.Kind {
	case LockupKindCliff:
		if l.EndTime > now {
			return []int64{l.EndTime}
		}
	case LockupKindDaily, LockupKindMonthly:
		period := l.PeriodSecs()
		if period == 0 {
			return nil
		}
		var out []int64
		for k := int64(1); k <= int64(l.PeriodCount); k++ {
			if t := l.StartTime + k*period; t > now {
				out = append(out, t)
			}
		}
		return out
	}
	return nil
}

// Covers reports whether l keeps at least the share of its base locked that
// prev does, at now and at every later instant. Value moved from prev to l
// can then never be released sooner. A constant prev counts as locked until
// now plus its duration.
func (l Lockup) Covers(prev Lockup, now int64) bool {
	if prev.Kind == LockupKindConstant {
		prev = Lockup{Kind: LockupKindCliff, StartTime: now, EndTime: now + prev.Duration()}
	}
	// l is flat between its release times and prev never locks more later,
	// so checking the start of each flat stretch is enough.
	for _, t := range append([]int64{now}, l.releaseTimes(now)...) {
		num, den := l.lockedShare(t)
		prevNum, prevDen := prev.lockedShare(t)
		if num*prevDen < prevNum*den {
			return false
		}
	}
	return true
}

// Expired reports whether nothing remains locked under this schedule.
func (l Lockup) Expired(now int64) bool {
	return l.SecondsLeft(now) == 0
}

// LockupParams is the caller-facing way to request a lockup: a kind, an
// optional start time (defaults to now) and a number of periods.
type LockupParams struct {
	Kind      LockupKind `json:"kind"`
	StartTime *int64     `json:"start_time,omitempty"`
	Periods   uint32     `json:"periods"`
}

// Build turns params into a lockup, taking now as the start when unset.
func (p LockupParams) Build(now int64) (Lockup, error) {
	if !p.Kind.valid() {
		return Lockup{}, fmt.Errorf("%w: %d", ErrInvalidLockupKind, uint8(p.Kind))
	}
	start := now
	if p.StartTime != nil {
		start = *p.StartTime
	}
	if p.Kind == LockupKindNone {
		return NewLockup(LockupKindNone, start, start, 0)
	}
	if p.Periods > p.Kind.MaxPeriods() {
		return Lockup{}, fmt.Errorf("%w: %d periods exceeds max %d for %s", ErrInvalidLockupPeriod, p.Periods, p.Kind.MaxPeriods(), p.Kind)
	}
	duration := int64(p.Periods) * p.Kind.PeriodSecs()
	if start > math.MaxInt64-duration {
		return Lockup{}, ErrArithmeticOverflow
	}
	return NewLockup(p.Kind, start, start+duration, p.Periods)
}

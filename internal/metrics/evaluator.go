// Package metrics computes goal-crossing events from a single progress
// increment. Everything here is pure: callers derive the pre-image
// algebraically (previous = new − delta), which is valid because progress
// only ever grows by the delta of the triggering operation. No storage read
// is involved, so detection is race-free under concurrent increments.
package metrics

import "github.com/estoque-labs/goal-engine/internal/models"

// EventKind identifies one crossing.
type EventKind string

const (
	DailyGoalMet          EventKind = "daily_goal_met"
	WeeklyGoalMet         EventKind = "weekly_goal_met"
	DailyProximity        EventKind = "daily_proximity"
	WeeklyProximity       EventKind = "weekly_proximity"
	DailyOverperformance  EventKind = "daily_overperformance"
	WeeklyOverperformance EventKind = "weekly_overperformance"
)

// overperformanceNum/Den encode the 150% overperformance bound without
// floating point.
const (
	overperformanceNum = 3
	overperformanceDen = 2
)

// Event is one edge-triggered crossing produced by an update.
type Event struct {
	Kind     EventKind
	Period   models.Period
	Goal     int64
	Progress int64
	// Threshold is the absolute value that was crossed (the goal itself, the
	// proximity bound, or the overperformance bound).
	Threshold int64
}

// Input carries the post-update counters, the known delta of the triggering
// operation, and the thresholds in force.
type Input struct {
	DailyProgress    int64
	WeeklyProgress   int64
	Delta            int64
	DailyGoal        int64
	WeeklyGoal       int64
	ProximityPercent int
}

// Evaluate returns zero or one primary event plus zero or one independent
// overperformance event for a single increment.
//
// Primary precedence is fixed: daily met, else weekly met, else daily
// proximity, else weekly proximity. At most one primary event fires per
// update even when several conditions hold numerically; this caps the
// notification volume a single increment can produce. Overperformance is
// evaluated separately and may co-occur with a primary event.
func Evaluate(in Input) []Event {
	var events []Event

	prevDaily := in.DailyProgress - in.Delta
	prevWeekly := in.WeeklyProgress - in.Delta

	if primary, ok := primaryEvent(in, prevDaily, prevWeekly); ok {
		events = append(events, primary)
	}
	if over, ok := overperformanceEvent(in, prevDaily, prevWeekly); ok {
		events = append(events, over)
	}
	return events
}

func primaryEvent(in Input, prevDaily, prevWeekly int64) (Event, bool) {
	if in.DailyGoal > 0 && in.DailyProgress >= in.DailyGoal && prevDaily < in.DailyGoal {
		return Event{
			Kind:      DailyGoalMet,
			Period:    models.PeriodDaily,
			Goal:      in.DailyGoal,
			Progress:  in.DailyProgress,
			Threshold: in.DailyGoal,
		}, true
	}
	if in.WeeklyGoal > 0 && in.WeeklyProgress >= in.WeeklyGoal && prevWeekly < in.WeeklyGoal {
		return Event{
			Kind:      WeeklyGoalMet,
			Period:    models.PeriodWeekly,
			Goal:      in.WeeklyGoal,
			Progress:  in.WeeklyProgress,
			Threshold: in.WeeklyGoal,
		}, true
	}

	percent := in.ProximityPercent
	if percent < 1 || percent > 99 {
		percent = models.DefaultProximityThreshold
	}

	if in.DailyGoal > 0 && in.DailyProgress < in.DailyGoal {
		bound := proximityBound(in.DailyGoal, percent)
		if in.DailyProgress >= bound && prevDaily < bound {
			return Event{
				Kind:      DailyProximity,
				Period:    models.PeriodDaily,
				Goal:      in.DailyGoal,
				Progress:  in.DailyProgress,
				Threshold: bound,
			}, true
		}
	}
	if in.WeeklyGoal > 0 && in.WeeklyProgress < in.WeeklyGoal {
		bound := proximityBound(in.WeeklyGoal, percent)
		if in.WeeklyProgress >= bound && prevWeekly < bound {
			return Event{
				Kind:      WeeklyProximity,
				Period:    models.PeriodWeekly,
				Goal:      in.WeeklyGoal,
				Progress:  in.WeeklyProgress,
				Threshold: bound,
			}, true
		}
	}
	return Event{}, false
}

func overperformanceEvent(in Input, prevDaily, prevWeekly int64) (Event, bool) {
	if in.DailyGoal > 0 {
		bound := overperformanceBound(in.DailyGoal)
		if in.DailyProgress >= bound && prevDaily < bound {
			return Event{
				Kind:      DailyOverperformance,
				Period:    models.PeriodDaily,
				Goal:      in.DailyGoal,
				Progress:  in.DailyProgress,
				Threshold: bound,
			}, true
		}
	}
	if in.WeeklyGoal > 0 {
		bound := overperformanceBound(in.WeeklyGoal)
		if in.WeeklyProgress >= bound && prevWeekly < bound {
			return Event{
				Kind:      WeeklyOverperformance,
				Period:    models.PeriodWeekly,
				Goal:      in.WeeklyGoal,
				Progress:  in.WeeklyProgress,
				Threshold: bound,
			}, true
		}
	}
	return Event{}, false
}

// proximityBound is the smallest progress value at or above goal*percent/100.
// Integer ceiling keeps the comparison exact for any goal size.
func proximityBound(goal int64, percent int) int64 {
	return (goal*int64(percent) + 99) / 100
}

// overperformanceBound is the smallest progress value at or above goal*1.5.
// Ceiling, like the proximity bound: an odd goal of 5 crosses at 8, not 7.
func overperformanceBound(goal int64) int64 {
	return (goal*overperformanceNum + overperformanceDen - 1) / overperformanceDen
}

package scheduler

import (
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
)

// MetadataCustomStrategy is the config.metadata key naming the
// CustomRecurrence used by a custom schedule.
const MetadataCustomStrategy = "custom_strategy"

// CustomRecurrence computes next runs for custom schedules. The reference
// time and the result are in the schedule's timezone; returning nil ends
// the schedule.
type CustomRecurrence interface {
	Next(schedule *Schedule, ref time.Time) *time.Time
}

// CustomRecurrenceFunc adapts a function to CustomRecurrence.
type CustomRecurrenceFunc func(schedule *Schedule, ref time.Time) *time.Time

// Next calls f.
func (f CustomRecurrenceFunc) Next(schedule *Schedule, ref time.Time) *time.Time {
	return f(schedule, ref)
}

// Calculator computes the next run of a schedule. It never returns an
// error: an unusable configuration yields nil, which callers treat as
// "never fires again".
type Calculator struct {
	cron *CronParser

	mu     sync.RWMutex
	custom map[string]CustomRecurrence
}

// NewCalculator creates a calculator with no custom strategies.
func NewCalculator() *Calculator {
	return &Calculator{
		cron:   NewCronParser(),
		custom: make(map[string]CustomRecurrence),
	}
}

// RegisterCustom makes a strategy selectable through
// config.metadata.custom_strategy. Registering a name twice replaces it.
func (c *Calculator) RegisterCustom(name string, strategy CustomRecurrence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom[name] = strategy
}

func (c *Calculator) customStrategy(name string) (CustomRecurrence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	strategy, ok := c.custom[name]
	return strategy, ok
}

// NextRun returns the first run of schedule after ref, or nil when there
// is none. The result is in UTC.
func (c *Calculator) NextRun(schedule *Schedule, ref time.Time) *time.Time {
	cfg := schedule.Config.withDefaults()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().
			Err(err).
			Str("schedule_id", schedule.ID).
			Str("timezone", cfg.Timezone).
			Msg("Unknown schedule timezone, schedule will not run")
		return nil
	}

	var next *time.Time
	switch {
	case schedule.Type == ScheduleTypeOnce:
		if cfg.StartDate != nil && cfg.StartDate.After(ref) {
			t := *cfg.StartDate
			next = &t
		}
	case cfg.StartDate != nil && ref.Before(*cfg.StartDate):
		next = c.firstRun(schedule, cfg, loc)
	default:
		next = c.advance(schedule, cfg, loc, ref.In(loc))
	}

	if next == nil {
		return nil
	}
	if cfg.EndDate != nil && next.After(*cfg.EndDate) {
		return nil
	}

	utc := next.UTC()
	return &utc
}

// firstRun anchors a recurring schedule on its start date. Day-filtered
// daily patterns take the first matching day on or after it.
func (c *Calculator) firstRun(schedule *Schedule, cfg ScheduleConfig, loc *time.Location) *time.Time {
	start := *cfg.StartDate
	switch {
	case schedule.Type == ScheduleTypeDaily && isDayFiltered(cfg.RecurrencePattern):
		return nextDaily(cfg, start.In(loc).AddDate(0, 0, -1), 1)
	case schedule.Type != ScheduleTypeCron:
		return &start
	}

	next, err := c.cron.NextRunFrom(cfg.CronExpression, loc, start)
	if err != nil {
		logCronError(schedule, cfg.CronExpression, err)
		return nil
	}
	if next.IsZero() {
		return nil
	}
	return &next
}

func (c *Calculator) advance(schedule *Schedule, cfg ScheduleConfig, loc *time.Location, ref time.Time) *time.Time {
	interval := cfg.Interval
	if interval < 1 {
		interval = 1
	}

	var next time.Time
	switch schedule.Type {
	case ScheduleTypeDaily:
		return nextDaily(cfg, ref, interval)

	case ScheduleTypeWeekly:
		next = ref.AddDate(0, 0, 7*interval)

	case ScheduleTypeMonthly:
		next = addMonths(ref, interval)

	case ScheduleTypeYearly:
		next = addMonths(ref, 12*interval)

	case ScheduleTypeCron:
		t, err := c.cron.NextRun(cfg.CronExpression, loc, ref)
		if err != nil {
			logCronError(schedule, cfg.CronExpression, err)
			return nil
		}
		if t.IsZero() {
			return nil
		}
		next = t

	case ScheduleTypeCustom:
		if name, ok := cfg.Metadata[MetadataCustomStrategy].(string); ok && name != "" {
			strategy, found := c.customStrategy(name)
			if !found {
				log.Warn().
					Str("schedule_id", schedule.ID).
					Str("strategy", name).
					Msg("Unknown custom recurrence strategy, schedule will not run")
				return nil
			}
			return strategy.Next(schedule, ref)
		}
		next = ref.AddDate(0, 0, interval)

	default:
		log.Warn().
			Str("schedule_id", schedule.ID).
			Str("type", string(schedule.Type)).
			Msg("Unknown schedule type, schedule will not run")
		return nil
	}

	return &next
}

func isDayFiltered(p RecurrencePattern) bool {
	return p == PatternWeekdays || p == PatternWeekends || p == PatternCustomDays
}

func nextDaily(cfg ScheduleConfig, ref time.Time, interval int) *time.Time {
	var match func(day int) bool
	switch cfg.RecurrencePattern {
	case PatternEveryDay, PatternEveryNDays:
		next := ref.AddDate(0, 0, interval)
		return &next
	case PatternWeekdays:
		match = func(day int) bool { return day <= Friday }
	case PatternWeekends:
		match = func(day int) bool { return day >= Saturday }
	case PatternCustomDays:
		days := make(map[int]bool, len(cfg.CustomDays))
		for _, d := range cfg.CustomDays {
			days[d] = true
		}
		match = func(day int) bool { return days[day] }
	default:
		return nil
	}

	for i := 1; i <= 7; i++ {
		candidate := ref.AddDate(0, 0, i)
		if match(weekdayIndex(candidate.Weekday())) {
			return &candidate
		}
	}
	return nil
}

// addMonths moves t forward by n calendar months, keeping the wall clock
// and clamping the day to the end of the target month.
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}

	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func logCronError(schedule *Schedule, expression string, err error) {
	log.Warn().
		Err(err).
		Str("schedule_id", schedule.ID).
		Str("cron_expression", expression).
		Msg("Invalid cron expression, schedule will not run")
}

package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser wraps robfig/cron for parsing cron expressions.
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a cron parser accepting the standard five fields
// and @descriptors. A CRON_TZ= prefix overrides the schedule timezone.
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Parse parses a cron expression and returns a schedule.
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	schedule, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return schedule, nil
}

// NextRun returns the first match strictly after after, evaluated in loc.
// A zero time means the expression never matches again.
func (p *CronParser) NextRun(expression string, loc *time.Location, after time.Time) (time.Time, error) {
	schedule, err := p.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}

	next := schedule.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, nil
	}
	return next.UTC(), nil
}

// NextRunFrom returns the first match at or after from.
func (p *CronParser) NextRunFrom(expression string, loc *time.Location, from time.Time) (time.Time, error) {
	return p.NextRun(expression, loc, from.Add(-time.Second))
}

package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Schedule is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week.
// Fields accept *, */n, single values, ranges a-b and comma lists.
type Schedule struct {
	expr    string
	minute  fieldSet
	hour    fieldSet
	dom     fieldSet
	month   fieldSet
	dow     fieldSet
	domStar bool
	dowStar bool
}

type fieldSet map[int]struct{}

func (f fieldSet) has(v int) bool {
	_, ok := f[v]
	return ok
}

// ParseSchedule parses a cron expression
func ParseSchedule(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: %q needs 5 fields, got %d", ErrInvalidSchedule, expr, len(parts))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	sets := make([]fieldSet, 5)
	for i, part := range parts {
		set, err := parseField(part, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q field %d: %v", ErrInvalidSchedule, expr, i+1, err)
		}
		sets[i] = set
	}

	return &Schedule{
		expr:    expr,
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		month:   sets[3],
		dow:     sets[4],
		domStar: parts[2] == "*",
		dowStar: parts[4] == "*",
	}, nil
}

func parseField(field string, lo, hi int) (fieldSet, error) {
	set := make(fieldSet)
	for _, item := range strings.Split(field, ",") {
		step := 1
		if base, s, ok := strings.Cut(item, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad step %q", s)
			}
			step = n
			item = base
		}

		from, to := lo, hi
		switch {
		case item == "*":
		case strings.Contains(item, "-"):
			a, b, _ := strings.Cut(item, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("bad range %q", item)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("bad range %q", item)
			}
		default:
			v, err := strconv.Atoi(item)
			if err != nil {
				return nil, fmt.Errorf("bad value %q", item)
			}
			from, to = v, v
		}

		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("%q out of range %d-%d", item, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = struct{}{}
		}
	}
	return set, nil
}

// String returns the original expression
func (s *Schedule) String() string {
	return s.expr
}

// Matches reports whether t falls in a scheduled minute. When both day fields
// are restricted a day matches if either does, as in standard cron.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minute.has(t.Minute()) &&
		s.hour.has(t.Hour()) &&
		s.month.has(int(t.Month())) &&
		s.dayMatches(t)
}

// Next returns the first scheduled minute strictly after t, searching up to
// four years ahead. The zero time means the schedule never fires.
func (s *Schedule) Next(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for t.Before(limit) {
		if !s.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.hour.has(t.Hour()) {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if s.minute.has(t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (s *Schedule) dayMatches(t time.Time) bool {
	domOK := s.dom.has(t.Day())
	dowOK := s.dow.has(int(t.Weekday()))
	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dowOK
	case s.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	Schedule      string
	Companies     []string
	Location      *time.Location
	CheckInterval time.Duration
}

// DefaultCronTriggerConfig closes the previous month at 01:00 on the 1st
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		Schedule:      "0 1 1 * *",
		Location:      time.UTC,
		CheckInterval: 30 * time.Second,
	}
}

// CronTrigger submits a period close for every configured company each time
// the schedule fires. The closed period ends on the day before the firing date,
// so a monthly schedule on the 1st closes the previous month.
type CronTrigger struct {
	config    CronTriggerConfig
	schedule  *Schedule
	scheduler *Scheduler
	logger    *zap.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	lastSlot time.Time
	lastRun  *time.Time
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config CronTriggerConfig, scheduler *Scheduler, logger *zap.Logger) (*CronTrigger, error) {
	schedule, err := ParseSchedule(config.Schedule)
	if err != nil {
		return nil, err
	}
	if len(config.Companies) == 0 {
		return nil, fmt.Errorf("%w: no companies to close", ErrInvalidConfig)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCronTriggerConfig().CheckInterval
	}
	return &CronTrigger{
		config:    config,
		schedule:  schedule,
		scheduler: scheduler,
		logger:    logger.Named("period-close-trigger"),
	}, nil
}

// Start starts the trigger loop
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("cron trigger started",
		zap.String("schedule", c.schedule.String()),
		zap.Strings("companies", c.config.Companies),
		zap.Time("next_run_at", c.schedule.Next(time.Now().In(c.config.Location))),
	)
	return nil
}

// Stop stops the trigger loop
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.checkAndTrigger(now)
		}
	}
}

// checkAndTrigger fires at most once per scheduled minute
func (c *CronTrigger) checkAndTrigger(now time.Time) bool {
	now = now.In(c.config.Location)
	slot := now.Truncate(time.Minute)
	if !c.schedule.Matches(slot) {
		return false
	}

	c.mu.Lock()
	if slot.Equal(c.lastSlot) {
		c.mu.Unlock()
		return false
	}
	c.lastSlot = slot
	c.lastRun = &now
	c.mu.Unlock()

	periodEnd := PeriodEndFor(now)
	c.logger.Info("triggering period close",
		zap.String("period_end", periodEnd.Format(time.DateOnly)),
		zap.Int("company_count", len(c.config.Companies)),
	)
	if err := c.scheduler.SchedulePeriodClose(c.config.Companies, periodEnd); err != nil {
		c.logger.Error("failed to schedule period close", zap.Error(err))
	}
	return true
}

// TriggerNow submits a period close outside the schedule
func (c *CronTrigger) TriggerNow(periodEnd time.Time) error {
	return c.scheduler.SchedulePeriodClose(c.config.Companies, periodEnd)
}

// Status reports the trigger state
func (c *CronTrigger) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"running":     c.running,
		"schedule":    c.schedule.String(),
		"companies":   c.config.Companies,
		"last_run_at": c.lastRun,
		"next_run_at": c.schedule.Next(time.Now().In(c.config.Location)),
	}
}

// PeriodEndFor returns the period end closed by a trigger firing at t
func PeriodEndFor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()-1, 0, 0, 0, 0, time.UTC)
}

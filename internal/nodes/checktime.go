package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/aretw0/menuflow/pkg/domain"
)

type checkTimeConfig struct {
	Timezone    string   `mapstructure:"timezone"`
	TimeRanges  []string `mapstructure:"time_ranges"`
	DaysOfWeek  []string `mapstructure:"days_of_week"`
	DaysOfMonth []string `mapstructure:"days_of_month"`
	Months      []string `mapstructure:"months"`
}

// CheckTime resolves to "true" when the current time falls inside every configured window.
// Empty lists and "*" match anything.
type CheckTime struct {
	header
	cfg checkTimeConfig
}

func newCheckTime(def *domain.NodeDefinition, env *Env) (Node, error) {
	var cfg checkTimeConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	if cfg.Timezone != "" && !strings.Contains(cfg.Timezone, "{{") {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	return &CheckTime{header: header{def: def, env: env}, cfg: cfg}, nil
}

func (c *CheckTime) Execute(ctx context.Context, req *Request) (Outcome, error) {
	now := c.env.Now()
	if tz := c.renderOrLiteral(req, "timezone", c.cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			c.log(req).Warn("invalid timezone, using UTC", "timezone", tz, "err", err)
			loc = time.UTC
		}
		now = now.In(loc)
	}

	ok := c.match(req, "time_ranges", c.cfg.TimeRanges, func(s string) (bool, error) { return inTimeRange(now, s) }) &&
		c.match(req, "days_of_week", c.cfg.DaysOfWeek, func(s string) (bool, error) {
			return inRange(int(now.Weekday()), s, weekdays)
		}) &&
		c.match(req, "days_of_month", c.cfg.DaysOfMonth, func(s string) (bool, error) {
			return inRange(now.Day(), s, nil)
		}) &&
		c.match(req, "months", c.cfg.Months, func(s string) (bool, error) {
			return inRange(int(now.Month()), s, months)
		})

	if ok {
		return advance(domain.OutcomeTrue, nil), nil
	}
	return advance(domain.OutcomeFalse, nil), nil
}

// match reports whether any entry of the list holds. Malformed entries never hold.
func (c *CheckTime) match(req *Request, field string, entries []string, test func(string) (bool, error)) bool {
	if len(entries) == 0 {
		return true
	}
	for i, raw := range entries {
		s := strings.TrimSpace(c.renderOrLiteral(req, fmt.Sprintf("%s[%d]", field, i), raw))
		if s == "*" {
			return true
		}
		ok, err := test(s)
		if err != nil {
			c.log(req).Warn("invalid time window", "field", field, "value", s, "err", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

var weekdays = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var months = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// inTimeRange checks "HH:MM-HH:MM"; ranges may wrap past midnight. The end is exclusive.
func inTimeRange(now time.Time, s string) (bool, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return false, fmt.Errorf("expected HH:MM-HH:MM")
	}
	from, err := clock(start)
	if err != nil {
		return false, err
	}
	to, err := clock(end)
	if err != nil {
		return false, err
	}
	cur := now.Hour()*60 + now.Minute()
	if from <= to {
		return cur >= from && cur < to, nil
	}
	return cur >= from || cur < to, nil
}

func clock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inRange checks a single value or an inclusive "a-b" range; names resolve through table.
func inRange(value int, s string, table map[string]int) (bool, error) {
	first, last, isRange := strings.Cut(s, "-")
	from, err := ordinal(first, table)
	if err != nil {
		return false, err
	}
	if !isRange {
		return value == from, nil
	}
	to, err := ordinal(last, table)
	if err != nil {
		return false, err
	}
	if from <= to {
		return value >= from && value <= to, nil
	}
	return value >= from || value <= to, nil
}

func ordinal(s string, table map[string]int) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if table != nil {
		if len(s) >= 3 {
			if v, ok := table[s[:3]]; ok {
				return v, nil
			}
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

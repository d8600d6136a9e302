// Package models defines the core domain entities: watch rules, price
// observations, alert decisions and the error kinds raised around them.
package models

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	_ "time/tzdata" // rule timezones resolve without system zoneinfo
)

// Direction filters which sign of price change may trigger an alert.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionEither Direction = "either"
)

// Valid reports whether d is one of the enumerated directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionEither:
		return true
	}
	return false
}

// Channel selects where a brief is delivered.
type Channel string

const (
	ChannelConsole  Channel = "console"
	ChannelDiscord  Channel = "discord"
	ChannelTelegram Channel = "telegram"
)

// Valid reports whether c is one of the enumerated channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelConsole, ChannelDiscord, ChannelTelegram:
		return true
	}
	return false
}

// Schedule modes.
const (
	ScheduleDaily    = "daily"
	ScheduleInterval = "interval"
)

// MaxTickers caps how many symbols one rule may watch.
const MaxTickers = 50

var (
	tickerPattern = regexp.MustCompile(`^[A-Z0-9]+(\.[A-Z])?$`)
	hhmmPattern   = regexp.MustCompile(`^(?:[01]\d|2[0-3]):[0-5]\d$`)
)

// WatchRule is the structured form of a monitoring requirement.
type WatchRule struct {
	Tickers          []string  `json:"tickers"`
	ThresholdPercent float64   `json:"threshold_percent"`
	Direction        Direction `json:"direction"`
	Channel          Channel   `json:"channel"`

	NewsEnabled     bool   `json:"news_enabled"`
	ReportLanguage  string `json:"report_language"`
	ReportStyle     string `json:"report_style"`
	LookbackDays    int    `json:"lookback_days"`
	ScheduleMode    string `json:"schedule_mode"`
	ScheduleTime    string `json:"schedule_time"`
	IntervalMinutes int    `json:"interval_minutes"`
	Timezone        string `json:"timezone"`
}

// Validate checks rule field constraints.
func (r *WatchRule) Validate() error {
	if len(r.Tickers) == 0 {
		return errors.New("rule must watch at least one ticker")
	}
	if len(r.Tickers) > MaxTickers {
		return fmt.Errorf("rule watches %d tickers, at most %d allowed", len(r.Tickers), MaxTickers)
	}
	seen := make(map[string]bool, len(r.Tickers))
	for _, t := range r.Tickers {
		if !tickerPattern.MatchString(t) {
			return fmt.Errorf("invalid ticker symbol %q", t)
		}
		if seen[t] {
			return fmt.Errorf("duplicate ticker symbol %q", t)
		}
		seen[t] = true
	}
	if math.IsNaN(r.ThresholdPercent) || math.IsInf(r.ThresholdPercent, 0) {
		return errors.New("threshold percent must be finite")
	}
	if r.ThresholdPercent < 0 {
		return errors.New("threshold percent must not be negative")
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", r.Direction)
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("invalid channel %q", r.Channel)
	}
	if r.ScheduleMode != "" && r.ScheduleMode != ScheduleDaily && r.ScheduleMode != ScheduleInterval {
		return fmt.Errorf("invalid schedule mode %q", r.ScheduleMode)
	}
	if r.ScheduleTime != "" && !hhmmPattern.MatchString(r.ScheduleTime) {
		return fmt.Errorf("invalid schedule time %q", r.ScheduleTime)
	}
	return nil
}

// Watches reports whether ticker belongs to the rule.
func (r *WatchRule) Watches(ticker string) bool {
	for _, t := range r.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}

// IsValidTicker reports whether s is a normalized ticker symbol such as
// "MSFT" or "BRK.B".
func IsValidTicker(s string) bool {
	return tickerPattern.MatchString(s)
}

// IsValidScheduleTime reports whether s is a 24h "HH:MM" time.
func IsValidScheduleTime(s string) bool {
	return hhmmPattern.MatchString(strings.TrimSpace(s))
}

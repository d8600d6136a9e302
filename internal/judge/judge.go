// Package judge decides whether a price observation crosses a rule's threshold.
package judge

import (
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/stockagent/internal/models"
)

// Judge compares an observation's change against the rule's threshold.
// The boundary is inclusive: a change exactly equal to the threshold triggers.
func Judge(obs models.PriceObservation, rule models.WatchRule) (models.AlertDecision, error) {
	if err := obs.Validate(); err != nil {
		return models.AlertDecision{}, models.NewDataError(obs.Ticker, err, "malformed observation")
	}
	if math.IsNaN(rule.ThresholdPercent) || math.IsInf(rule.ThresholdPercent, 0) {
		return models.AlertDecision{}, errors.New("threshold percent must be finite")
	}
	if rule.ThresholdPercent < 0 {
		return models.AlertDecision{}, errors.New("threshold percent must not be negative")
	}

	change := obs.ChangePercent
	var moved float64
	switch rule.Direction {
	case models.DirectionUp:
		moved = change
	case models.DirectionDown:
		moved = -change
	case models.DirectionEither, "":
		moved = math.Abs(change)
	default:
		return models.AlertDecision{}, fmt.Errorf("unknown direction %q", rule.Direction)
	}

	decision := models.AlertDecision{
		Ticker:    obs.Ticker,
		Triggered: moved >= rule.ThresholdPercent,
		Price:     obs.Price,
		Change:    change,
	}
	if decision.Triggered {
		decision.Reason = fmt.Sprintf("%s moved %+.2f%% (now %.2f), at or beyond %s threshold %.2f%%",
			obs.Ticker, change, obs.Price, directionLabel(rule.Direction), rule.ThresholdPercent)
	} else {
		decision.Reason = fmt.Sprintf("%s moved %+.2f%%, within %s threshold %.2f%%",
			obs.Ticker, change, directionLabel(rule.Direction), rule.ThresholdPercent)
	}
	return decision, nil
}

// JudgeAll judges every observation against each rule that watches its
// ticker, so a ticker shared by two rules yields one decision per rule.
// Each decision carries the index of its rule. Observations no rule watches
// are skipped. Errors are collected and do not stop the remaining pairs; a
// malformed observation is reported once.
func JudgeAll(snapshot []models.PriceObservation, rules []models.WatchRule) ([]models.AlertDecision, []error) {
	var decisions []models.AlertDecision
	var errs []error
	for _, obs := range snapshot {
		if err := obs.Validate(); err != nil {
			if watched(obs.Ticker, rules) {
				errs = append(errs, models.NewDataError(obs.Ticker, err, "malformed observation"))
			}
			continue
		}
		for i, rule := range rules {
			if !rule.Watches(obs.Ticker) {
				continue
			}
			d, err := Judge(obs, rule)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			d.Rule = i
			decisions = append(decisions, d)
		}
	}
	return decisions, errs
}

// ForRule returns the decisions made under rule index i.
func ForRule(decisions []models.AlertDecision, i int) []models.AlertDecision {
	var out []models.AlertDecision
	for _, d := range decisions {
		if d.Rule == i {
			out = append(out, d)
		}
	}
	return out
}

// Triggered filters decisions down to those that fired.
func Triggered(decisions []models.AlertDecision) []models.AlertDecision {
	var out []models.AlertDecision
	for _, d := range decisions {
		if d.Triggered {
			out = append(out, d)
		}
	}
	return out
}

func watched(ticker string, rules []models.WatchRule) bool {
	for _, r := range rules {
		if r.Watches(ticker) {
			return true
		}
	}
	return false
}

func directionLabel(d models.Direction) string {
	switch d {
	case models.DirectionUp:
		return "upward"
	case models.DirectionDown:
		return "downward"
	default:
		return "±"
	}
}

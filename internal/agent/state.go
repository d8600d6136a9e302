package agent

import (
	"github.com/rewired-gh/stockagent/internal/models"
)

// Step names one stage of a run.
type Step int

const (
	StepStart Step = iota
	StepParse
	StepPrice
	StepNews
	StepJudge
	StepBrief
	StepNotify
	StepPersist
	StepEnd
)

var stepNames = [...]string{
	StepStart:   "start",
	StepParse:   "parse",
	StepPrice:   "price",
	StepNews:    "news",
	StepJudge:   "judge",
	StepBrief:   "brief",
	StepNotify:  "notify",
	StepPersist: "persist",
	StepEnd:     "end",
}

func (s Step) String() string {
	if s < StepStart || s > StepEnd {
		return "unknown"
	}
	return stepNames[s]
}

// State is the per-run value threaded through every stage.
type State struct {
	RunID       string
	Requirement string
	Rules       []models.WatchRule
	Snapshot    []models.PriceObservation
	News        map[string][]models.NewsItem
	Decisions   []models.AlertDecision
	// Briefs holds one composed brief per rule, by rule index.
	Briefs []string
	Errors []error
	// Plan records the steps taken, in order.
	Plan []Step
	// Persist enables the journal step.
	Persist bool
}

// Tickers returns the distinct tickers of every rule in first-seen order.
func (s *State) Tickers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Rules {
		for _, t := range r.Tickers {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// NewsTickers returns the distinct tickers of rules with news enabled.
func (s *State) NewsTickers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.Rules {
		if !r.NewsEnabled {
			continue
		}
		for _, t := range r.Tickers {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Next returns the step that follows current for the given state.
// Steps whose output is already present, or that nothing asks for, are skipped.
func Next(current Step, s *State) Step {
	for step := current + 1; step < StepEnd; step++ {
		if needs(step, s) {
			return step
		}
	}
	return StepEnd
}

// Plan lists the steps Next would take from the start if the state did not
// change along the way, ending with StepEnd.
func Plan(s *State) []Step {
	var plan []Step
	for step := Next(StepStart, s); ; step = Next(step, s) {
		plan = append(plan, step)
		if step == StepEnd {
			return plan
		}
	}
}

func needs(step Step, s *State) bool {
	switch step {
	case StepParse:
		return len(s.Rules) == 0
	case StepPrice:
		return s.Snapshot == nil
	case StepNews:
		return s.News == nil && wantsNews(s)
	case StepJudge, StepBrief, StepNotify:
		return true
	case StepPersist:
		return s.Persist
	default:
		return false
	}
}

// Rules not parsed yet default to news enabled.
func wantsNews(s *State) bool {
	if len(s.Rules) == 0 {
		return true
	}
	for _, r := range s.Rules {
		if r.NewsEnabled {
			return true
		}
	}
	return false
}

package models

import (
	"errors"
	"math"
	"time"
)

// PriceObservation is one sampled price reading for a ticker.
type PriceObservation struct {
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate checks that the observation carries a usable price.
func (o *PriceObservation) Validate() error {
	if o.Ticker == "" {
		return errors.New("observation ticker must not be empty")
	}
	if o.Price <= 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return errors.New("observation is missing a price")
	}
	if math.IsNaN(o.ChangePercent) || math.IsInf(o.ChangePercent, 0) {
		return errors.New("observation change percent is not finite")
	}
	return nil
}

// ChangePercent computes the percent move of price relative to previous.
// It returns 0 when previous is not positive.
func ChangePercent(price, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return (price - previous) / previous * 100.0
}

// AlertDecision is the judge's verdict for one observation under one rule.
// Rule is the index of that rule in the run's rule list.
type AlertDecision struct {
	Rule      int     `json:"rule"`
	Ticker    string  `json:"ticker"`
	Triggered bool    `json:"triggered"`
	Reason    string  `json:"reason"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change_percent"`
}

// NewsItem is a single headline with its link.
type NewsItem struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// RunRecord is one journaled decision.
type RunRecord struct {
	RunID         string
	Requirement   string
	Ticker        string
	Price         float64
	ChangePercent float64
	Threshold     float64
	Direction     Direction
	Triggered     bool
	Reason        string
	CreatedAt     time.Time
}

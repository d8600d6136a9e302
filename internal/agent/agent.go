// Package agent runs a requirement through parse, price, news, judge, brief,
// notify and persist under a supervisor that picks the next step.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/stockagent/internal/brief"
	"github.com/rewired-gh/stockagent/internal/judge"
	"github.com/rewired-gh/stockagent/internal/logger"
	"github.com/rewired-gh/stockagent/internal/models"
)

// RequirementParser turns text into watch rules.
type RequirementParser interface {
	Parse(ctx context.Context, requirement string) ([]models.WatchRule, error)
}

// PriceSource fetches one observation per ticker.
type PriceSource interface {
	FetchSnapshot(ctx context.Context, tickers []string) ([]models.PriceObservation, []error)
}

// NewsSource fetches recent headlines for a ticker.
type NewsSource interface {
	FetchNews(ctx context.Context, ticker string, limit int) ([]models.NewsItem, error)
}

// Composer writes the brief for one rule.
type Composer interface {
	Compose(ctx context.Context, rule models.WatchRule, snapshot []models.PriceObservation, news map[string][]models.NewsItem) string
}

// Deliverer sends text over a channel.
type Deliverer interface {
	Deliver(ctx context.Context, channel models.Channel, text string) error
}

// Journal stores decisions.
type Journal interface {
	AddRecord(rec *models.RunRecord) error
}

// Recorder receives run metrics.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	AlertTriggered(ticker string)
	DeliveryFailed(channel string)
	DataError()
	RunFinished(outcome string)
}

// Agent holds the collaborators of a run.
type Agent struct {
	parser    RequirementParser
	prices    PriceSource
	news      NewsSource
	composer  Composer
	deliverer Deliverer
	journal   Journal
	metrics   Recorder
	newsLimit int
	now       func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithJournal enables the persist step.
func WithJournal(j Journal) Option {
	return func(a *Agent) { a.journal = j }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(a *Agent) { a.metrics = r }
}

// WithNewsLimit caps headlines per ticker.
func WithNewsLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.newsLimit = n
		}
	}
}

// New creates an agent.
func New(parser RequirementParser, prices PriceSource, news NewsSource, composer Composer, deliverer Deliverer, opts ...Option) *Agent {
	a := &Agent{
		parser:    parser,
		prices:    prices,
		news:      news,
		composer:  composer,
		deliverer: deliverer,
		metrics:   nopRecorder{},
		newsLimit: 5,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run parses the requirement and carries it through every stage.
func (a *Agent) Run(ctx context.Context, requirement string) (*State, error) {
	return a.run(ctx, &State{Requirement: requirement})
}

// RunRules skips parsing and runs the given rules.
func (a *Agent) RunRules(ctx context.Context, requirement string, rules []models.WatchRule) (*State, error) {
	return a.run(ctx, &State{Requirement: requirement, Rules: rules})
}

func (a *Agent) run(ctx context.Context, s *State) (*State, error) {
	s.RunID = uuid.New().String()
	s.Persist = a.journal != nil
	log := logger.WithField("run_id", s.RunID)
	log.Debugf("Supervisor plan: %v", Plan(s))

	var deliveryErrs []error
	for step := Next(StepStart, s); step != StepEnd; step = Next(step, s) {
		if err := ctx.Err(); err != nil {
			a.metrics.RunFinished("error")
			return s, err
		}
		s.Plan = append(s.Plan, step)
		start := a.now()
		err := a.exec(ctx, step, s)
		a.metrics.ObserveStage(step.String(), a.now().Sub(start))
		if err == nil {
			continue
		}
		if step == StepNotify {
			deliveryErrs = append(deliveryErrs, err)
			continue
		}
		a.metrics.RunFinished("error")
		return s, err
	}
	s.Plan = append(s.Plan, StepEnd)

	if len(deliveryErrs) > 0 {
		a.metrics.RunFinished("error")
		return s, errors.Join(deliveryErrs...)
	}
	a.metrics.RunFinished("ok")
	log.Infof("Run finished: %d decisions, %d errors", len(s.Decisions), len(s.Errors))
	return s, nil
}

func (a *Agent) exec(ctx context.Context, step Step, s *State) error {
	switch step {
	case StepParse:
		return a.parse(ctx, s)
	case StepPrice:
		a.price(ctx, s)
	case StepNews:
		a.fetchNews(ctx, s)
	case StepJudge:
		a.judge(s)
	case StepBrief:
		a.compose(ctx, s)
	case StepNotify:
		return a.notify(ctx, s)
	case StepPersist:
		a.persist(s)
	default:
		return fmt.Errorf("unknown step %v", step)
	}
	return nil
}

func (a *Agent) parse(ctx context.Context, s *State) error {
	rules, err := a.parser.Parse(ctx, s.Requirement)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return models.NewParseError(s.Requirement, nil, "no watch rule extracted")
	}
	s.Rules = rules
	for i, r := range rules {
		logger.Info("Rule %d: tickers=%v threshold=%.2f%% direction=%s channel=%s",
			i+1, r.Tickers, r.ThresholdPercent, r.Direction, r.Channel)
	}
	return nil
}

func (a *Agent) price(ctx context.Context, s *State) {
	snapshot, errs := a.prices.FetchSnapshot(ctx, s.Tickers())
	if snapshot == nil {
		snapshot = []models.PriceObservation{}
	}
	s.Snapshot = snapshot
	for _, err := range errs {
		logger.Warn("Skipping ticker: %v", err)
		a.metrics.DataError()
		s.Errors = append(s.Errors, err)
	}
	logger.Info("Fetched %d of %d prices", len(snapshot), len(s.Tickers()))
}

func (a *Agent) fetchNews(ctx context.Context, s *State) {
	s.News = make(map[string][]models.NewsItem)
	for _, t := range s.NewsTickers() {
		items, err := a.news.FetchNews(ctx, t, a.newsLimit)
		if err != nil {
			logger.Warn("No news for %s: %v", t, err)
			s.Errors = append(s.Errors, err)
			continue
		}
		s.News[t] = items
	}
}

func (a *Agent) judge(s *State) {
	decisions, errs := judge.JudgeAll(s.Snapshot, s.Rules)
	s.Decisions = decisions
	for _, err := range errs {
		logger.Warn("Judge skipped observation: %v", err)
		a.metrics.DataError()
		s.Errors = append(s.Errors, err)
	}
	for _, d := range judge.Triggered(decisions) {
		logger.Info("Alert: %s", d.Reason)
		a.metrics.AlertTriggered(d.Ticker)
	}
}

func (a *Agent) compose(ctx context.Context, s *State) {
	s.Briefs = make([]string, len(s.Rules))
	for i, r := range s.Rules {
		s.Briefs[i] = a.composer.Compose(ctx, r, s.Snapshot, s.News)
	}
}

// Each rule gets its alert first, when any of its tickers fired, then its brief.
func (a *Agent) notify(ctx context.Context, s *State) error {
	var errs []error
	for i, r := range s.Rules {
		var texts []string
		if alert := brief.AlertText(judge.ForRule(s.Decisions, i)); alert != "" {
			texts = append(texts, alert)
		}
		if i < len(s.Briefs) {
			texts = append(texts, brief.BriefText(s.Briefs[i]))
		}
		for _, text := range texts {
			if err := a.deliverer.Deliver(ctx, r.Channel, text); err != nil {
				logger.Error("Delivery failed: %v", err)
				a.metrics.DeliveryFailed(string(r.Channel))
				s.Errors = append(s.Errors, err)
				errs = append(errs, err)
				continue
			}
			logger.Info("Notified via %s", r.Channel)
		}
	}
	return errors.Join(errs...)
}

func (a *Agent) persist(s *State) {
	createdAt := a.now()
	for _, d := range s.Decisions {
		if d.Rule < 0 || d.Rule >= len(s.Rules) {
			continue
		}
		r := s.Rules[d.Rule]
		rec := &models.RunRecord{
			RunID:         s.RunID,
			Requirement:   s.Requirement,
			Ticker:        d.Ticker,
			Price:         d.Price,
			ChangePercent: d.Change,
			Threshold:     r.ThresholdPercent,
			Direction:     r.Direction,
			Triggered:     d.Triggered,
			Reason:        d.Reason,
			CreatedAt:     createdAt,
		}
		if err := a.journal.AddRecord(rec); err != nil {
			logger.Warn("Failed to journal %s: %v", d.Ticker, err)
			s.Errors = append(s.Errors, err)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration) {}
func (nopRecorder) AlertTriggered(string)              {}
func (nopRecorder) DeliveryFailed(string)              {}
func (nopRecorder) DataError()                         {}
func (nopRecorder) RunFinished(string)                 {}

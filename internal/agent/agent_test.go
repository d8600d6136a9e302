package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/stockagent/internal/models"
)

type fakeParser struct {
	rules []models.WatchRule
	err   error
	calls int
}

func (f *fakeParser) Parse(_ context.Context, _ string) ([]models.WatchRule, error) {
	f.calls++
	return f.rules, f.err
}

type fakePrices struct {
	obs     map[string]models.PriceObservation
	tickers []string
}

func (f *fakePrices) FetchSnapshot(_ context.Context, tickers []string) ([]models.PriceObservation, []error) {
	f.tickers = tickers
	var snap []models.PriceObservation
	var errs []error
	for _, t := range tickers {
		o, ok := f.obs[t]
		if !ok {
			errs = append(errs, models.NewDataError(t, nil, "no price data"))
			continue
		}
		snap = append(snap, o)
	}
	return snap, errs
}

type fakeNews struct {
	calls []string
}

func (f *fakeNews) FetchNews(_ context.Context, ticker string, _ int) ([]models.NewsItem, error) {
	f.calls = append(f.calls, ticker)
	return []models.NewsItem{{Title: ticker + " headline", Link: "https://example.com/" + ticker}}, nil
}

type fakeComposer struct{}

func (fakeComposer) Compose(_ context.Context, rule models.WatchRule, _ []models.PriceObservation, _ map[string][]models.NewsItem) string {
	return "brief for " + strings.Join(rule.Tickers, ",")
}

type delivery struct {
	channel models.Channel
	text    string
}

type fakeDeliverer struct {
	sent []delivery
	err  error
}

func (f *fakeDeliverer) Deliver(_ context.Context, ch models.Channel, text string) error {
	f.sent = append(f.sent, delivery{ch, text})
	if f.err != nil {
		return models.NewNotifyError(ch, f.err, "send failed")
	}
	return nil
}

type fakeJournal struct {
	records []models.RunRecord
}

func (f *fakeJournal) AddRecord(rec *models.RunRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

type fakeRecorder struct {
	stages   []string
	alerts   []string
	failures []string
	data     int
	outcome  string
}

func (f *fakeRecorder) ObserveStage(stage string, _ time.Duration) {
	f.stages = append(f.stages, stage)
}
func (f *fakeRecorder) AlertTriggered(t string)    { f.alerts = append(f.alerts, t) }
func (f *fakeRecorder) DeliveryFailed(ch string)   { f.failures = append(f.failures, ch) }
func (f *fakeRecorder) DataError()                 { f.data++ }
func (f *fakeRecorder) RunFinished(outcome string) { f.outcome = outcome }

func obs(ticker string, change float64) models.PriceObservation {
	return models.PriceObservation{
		Ticker:        ticker,
		Price:         100 + change,
		PreviousClose: 100,
		ChangePercent: change,
		Timestamp:     time.Now(),
	}
}

func discordRule() models.WatchRule {
	return models.WatchRule{
		Tickers:          []string{"MSFT", "META"},
		ThresholdPercent: 5,
		Direction:        models.DirectionEither,
		Channel:          models.ChannelDiscord,
		NewsEnabled:      true,
	}
}

func TestNext_PlanOrder(t *testing.T) {
	tests := []struct {
		name  string
		state *State
		want  []Step
	}{
		{
			name:  "fresh run",
			state: &State{},
			want:  []Step{StepParse, StepPrice, StepNews, StepJudge, StepBrief, StepNotify, StepEnd},
		},
		{
			name:  "fresh run with journal",
			state: &State{Persist: true},
			want:  []Step{StepParse, StepPrice, StepNews, StepJudge, StepBrief, StepNotify, StepPersist, StepEnd},
		},
		{
			name:  "rules given",
			state: &State{Rules: []models.WatchRule{discordRule()}},
			want:  []Step{StepPrice, StepNews, StepJudge, StepBrief, StepNotify, StepEnd},
		},
		{
			name: "news disabled",
			state: &State{Rules: []models.WatchRule{{
				Tickers: []string{"MSFT"}, NewsEnabled: false,
			}}},
			want: []Step{StepPrice, StepJudge, StepBrief, StepNotify, StepEnd},
		},
		{
			name: "snapshot and news present",
			state: &State{
				Rules:    []models.WatchRule{discordRule()},
				Snapshot: []models.PriceObservation{},
				News:     map[string][]models.NewsItem{},
			},
			want: []Step{StepJudge, StepBrief, StepNotify, StepEnd},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Plan(tt.state); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_FromEnd(t *testing.T) {
	if got := Next(StepEnd, &State{}); got != StepEnd {
		t.Errorf("Next(end) = %v, want end", got)
	}
	if got := Next(StepNotify, &State{}); got != StepEnd {
		t.Errorf("Next(notify) without journal = %v, want end", got)
	}
}

func TestStep_String(t *testing.T) {
	if StepNotify.String() != "notify" {
		t.Errorf("got %q", StepNotify.String())
	}
	if Step(99).String() != "unknown" {
		t.Errorf("got %q", Step(99).String())
	}
}

func TestRun_DiscordAlertAndBrief(t *testing.T) {
	parser := &fakeParser{rules: []models.WatchRule{discordRule()}}
	prices := &fakePrices{obs: map[string]models.PriceObservation{
		"MSFT": obs("MSFT", 6),
		"META": obs("META", 1),
	}}
	news := &fakeNews{}
	out := &fakeDeliverer{}
	journal := &fakeJournal{}
	rec := &fakeRecorder{}

	a := New(parser, prices, news, fakeComposer{}, out, WithJournal(journal), WithMetrics(rec))
	s, err := a.Run(context.Background(), "Check MSFT and META price and tell me in discord")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPlan := []Step{StepParse, StepPrice, StepNews, StepJudge, StepBrief, StepNotify, StepPersist, StepEnd}
	if !reflect.DeepEqual(s.Plan, wantPlan) {
		t.Errorf("plan = %v, want %v", s.Plan, wantPlan)
	}
	if s.RunID == "" {
		t.Error("expected a run id")
	}
	if !reflect.DeepEqual(prices.tickers, []string{"MSFT", "META"}) {
		t.Errorf("price tickers = %v", prices.tickers)
	}
	if !reflect.DeepEqual(news.calls, []string{"MSFT", "META"}) {
		t.Errorf("news tickers = %v", news.calls)
	}

	if len(out.sent) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(out.sent))
	}
	if out.sent[0].channel != models.ChannelDiscord || !strings.HasPrefix(out.sent[0].text, "[ALERT]\nMSFT") {
		t.Errorf("first delivery = %+v", out.sent[0])
	}
	if strings.Contains(out.sent[0].text, "META") {
		t.Error("alert should not mention an untriggered ticker")
	}
	if out.sent[1].text != "[DAILY BRIEF]\nbrief for MSFT,META" {
		t.Errorf("second delivery = %q", out.sent[1].text)
	}

	if len(journal.records) != 2 {
		t.Fatalf("got %d journal records, want 2", len(journal.records))
	}
	for _, r := range journal.records {
		if r.RunID != s.RunID {
			t.Errorf("record run id %s, want %s", r.RunID, s.RunID)
		}
		if r.Threshold != 5 || r.Direction != models.DirectionEither {
			t.Errorf("record rule fields wrong: %+v", r)
		}
	}
	if !journal.records[0].Triggered || journal.records[1].Triggered {
		t.Errorf("triggered flags wrong: %+v", journal.records)
	}

	if !reflect.DeepEqual(rec.alerts, []string{"MSFT"}) {
		t.Errorf("alerts recorded = %v", rec.alerts)
	}
	if len(rec.stages) != 7 {
		t.Errorf("stages observed = %v", rec.stages)
	}
	if rec.outcome != "ok" {
		t.Errorf("outcome = %q", rec.outcome)
	}
}

func TestRun_NoAlertOnlyBrief(t *testing.T) {
	rule := discordRule()
	rule.Channel = models.ChannelConsole
	parser := &fakeParser{rules: []models.WatchRule{rule}}
	prices := &fakePrices{obs: map[string]models.PriceObservation{
		"MSFT": obs("MSFT", 1),
		"META": obs("META", -2),
	}}
	out := &fakeDeliverer{}

	a := New(parser, prices, &fakeNews{}, fakeComposer{}, out)
	if _, err := a.Run(context.Background(), "watch MSFT META"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.sent) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(out.sent))
	}
	if !strings.HasPrefix(out.sent[0].text, "[DAILY BRIEF]") {
		t.Errorf("unexpected delivery %q", out.sent[0].text)
	}
}

func TestRun_ParseFailureAborts(t *testing.T) {
	parser := &fakeParser{err: models.NewParseError("hello", nil, "no ticker found")}
	prices := &fakePrices{}
	out := &fakeDeliverer{}
	rec := &fakeRecorder{}

	a := New(parser, prices, &fakeNews{}, fakeComposer{}, out, WithMetrics(rec))
	s, err := a.Run(context.Background(), "hello")
	var pe *models.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if prices.tickers != nil || len(out.sent) != 0 {
		t.Error("no stage should run after a parse failure")
	}
	if !reflect.DeepEqual(s.Plan, []Step{StepParse}) {
		t.Errorf("plan = %v", s.Plan)
	}
	if rec.outcome != "error" {
		t.Errorf("outcome = %q", rec.outcome)
	}
}

func TestRun_EmptyRulesIsParseError(t *testing.T) {
	a := New(&fakeParser{}, &fakePrices{}, &fakeNews{}, fakeComposer{}, &fakeDeliverer{})
	_, err := a.Run(context.Background(), "nothing")
	var pe *models.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestRun_MissingPriceSkipsTicker(t *testing.T) {
	rule := discordRule()
	rule.NewsEnabled = false
	prices := &fakePrices{obs: map[string]models.PriceObservation{
		"META": obs("META", -7),
	}}
	out := &fakeDeliverer{}
	rec := &fakeRecorder{}

	a := New(&fakeParser{}, prices, &fakeNews{}, fakeComposer{}, out, WithMetrics(rec))
	s, err := a.RunRules(context.Background(), "watch", []models.WatchRule{rule})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(s.Errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(s.Errors))
	}
	var de *models.DataError
	if !errors.As(s.Errors[0], &de) || de.Ticker != "MSFT" {
		t.Errorf("expected DataError for MSFT, got %v", s.Errors[0])
	}
	if len(s.Decisions) != 1 || s.Decisions[0].Ticker != "META" || !s.Decisions[0].Triggered {
		t.Errorf("decisions = %+v", s.Decisions)
	}
	if rec.data != 1 {
		t.Errorf("data errors recorded = %d", rec.data)
	}
	if s.News != nil {
		t.Error("news step should be skipped when disabled")
	}
}

func TestRun_DeliveryFailure(t *testing.T) {
	prices := &fakePrices{obs: map[string]models.PriceObservation{
		"MSFT": obs("MSFT", 9),
		"META": obs("META", 0),
	}}
	out := &fakeDeliverer{err: errors.New("status 500")}
	rec := &fakeRecorder{}

	a := New(&fakeParser{}, prices, &fakeNews{}, fakeComposer{}, out, WithMetrics(rec))
	_, err := a.RunRules(context.Background(), "watch", []models.WatchRule{discordRule()})
	var ne *models.NotifyError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NotifyError, got %v", err)
	}
	if len(out.sent) != 2 {
		t.Errorf("each message is attempted once: got %d attempts", len(out.sent))
	}
	if !reflect.DeepEqual(rec.failures, []string{"discord", "discord"}) {
		t.Errorf("failures recorded = %v", rec.failures)
	}
}

func TestRun_MultipleRulesPerChannel(t *testing.T) {
	rules := []models.WatchRule{
		{Tickers: []string{"MSFT"}, ThresholdPercent: 2, Direction: models.DirectionUp, Channel: models.ChannelConsole},
		{Tickers: []string{"NVDA"}, ThresholdPercent: 3, Direction: models.DirectionDown, Channel: models.ChannelTelegram},
	}
	prices := &fakePrices{obs: map[string]models.PriceObservation{
		"MSFT": obs("MSFT", 2.5),
		"NVDA": obs("NVDA", -3),
	}}
	out := &fakeDeliverer{}

	a := New(&fakeParser{}, prices, &fakeNews{}, fakeComposer{}, out)
	if _, err := a.RunRules(context.Background(), "watch", rules); err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	want := []delivery{
		{models.ChannelConsole, "[ALERT]\n"},
		{models.ChannelConsole, "[DAILY BRIEF]\nbrief for MSFT"},
		{models.ChannelTelegram, "[ALERT]\n"},
		{models.ChannelTelegram, "[DAILY BRIEF]\nbrief for NVDA"},
	}
	if len(out.sent) != len(want) {
		t.Fatalf("got %d deliveries, want %d: %+v", len(out.sent), len(want), out.sent)
	}
	for i, w := range want {
		if out.sent[i].channel != w.channel || !strings.HasPrefix(out.sent[i].text, w.text) {
			t.Errorf("delivery %d = %+v, want prefix %+v", i, out.sent[i], w)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	parser := &fakeParser{rules: []models.WatchRule{discordRule()}}
	a := New(parser, &fakePrices{}, &fakeNews{}, fakeComposer{}, &fakeDeliverer{})
	if _, err := a.Run(ctx, "watch"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if parser.calls != 0 {
		t.Error("parser should not be called after cancellation")
	}
}

func TestRun_SharedTickerUsesOwningRule(t *testing.T) {
	rules := []models.WatchRule{
		{Tickers: []string{"MSFT"}, ThresholdPercent: 2, Direction: models.DirectionEither, Channel: models.ChannelDiscord},
		{Tickers: []string{"MSFT"}, ThresholdPercent: 10, Direction: models.DirectionEither, Channel: models.ChannelConsole},
	}
	prices := &fakePrices{obs: map[string]models.PriceObservation{
		"MSFT": obs("MSFT", 3),
	}}
	out := &fakeDeliverer{}
	journal := &fakeJournal{}

	a := New(&fakeParser{}, prices, &fakeNews{}, fakeComposer{}, out, WithJournal(journal))
	if _, err := a.RunRules(context.Background(), "watch", rules); err != nil {
		t.Fatalf("RunRules: %v", err)
	}

	var discord, console []string
	for _, d := range out.sent {
		switch d.channel {
		case models.ChannelDiscord:
			discord = append(discord, d.text)
		case models.ChannelConsole:
			console = append(console, d.text)
		}
	}
	if len(discord) != 2 || !strings.HasPrefix(discord[0], "[ALERT]\nMSFT") || !strings.Contains(discord[0], "2.00%") {
		t.Errorf("discord deliveries = %q, want alert at 2%% then brief", discord)
	}
	if len(console) != 1 || !strings.HasPrefix(console[0], "[DAILY BRIEF]") {
		t.Errorf("console deliveries = %q, want only the brief", console)
	}

	if len(journal.records) != 2 {
		t.Fatalf("got %d journal records, want 2", len(journal.records))
	}
	got := map[float64]bool{}
	for _, r := range journal.records {
		got[r.Threshold] = r.Triggered
	}
	if !got[2] || got[10] {
		t.Errorf("journal triggered by threshold = %v, want 2:true 10:false", got)
	}
}

// Package parser turns a free-text monitoring requirement into watch rules.
// Language understanding is delegated to the LLM; this package owns the
// prompt and treats the model output as untrusted input.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/stockagent/internal/llm"
	"github.com/rewired-gh/stockagent/internal/logger"
	"github.com/rewired-gh/stockagent/internal/models"
	"github.com/rewired-gh/stockagent/internal/prompt"
)

// DefaultThreshold applies when a requirement names no usable threshold.
const DefaultThreshold = 5.0

const (
	maxThreshold       = 50.0
	defaultLookback    = 5
	defaultScheduleAt  = "16:10"
	defaultIntervalMin = 10
)

var (
	allowedLanguages = map[string]bool{"en": true, "zh": true, "jp": true}
	allowedStyles    = map[string]bool{"summary": true, "detailed": true}

	fencePattern   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	objectPattern  = regexp.MustCompile(`(?s)\{.*\}`)
	arrayPattern   = regexp.MustCompile(`(?s)\[.*\]`)
	tickerStripper = regexp.MustCompile(`[^A-Z0-9.]`)
)

// Defaults are applied to fields the requirement leaves out.
type Defaults struct {
	Threshold float64
	Language  string
	Timezone  string
}

// Parser builds extraction prompts and validates the model's answer.
type Parser struct {
	llm      llm.Completer
	prompts  *prompt.Catalog
	defaults Defaults
}

// New creates a parser. Zero-valued defaults fall back to the built-in ones.
func New(completer llm.Completer, prompts *prompt.Catalog, defaults Defaults) *Parser {
	if defaults.Threshold <= 0 || defaults.Threshold > maxThreshold {
		defaults.Threshold = DefaultThreshold
	}
	if !allowedLanguages[defaults.Language] {
		defaults.Language = "zh"
	}
	if defaults.Timezone == "" {
		defaults.Timezone = "America/Toronto"
	}
	return &Parser{llm: completer, prompts: prompts, defaults: defaults}
}

// Parse returns one or more rules for requirement, or a *models.ParseError.
func (p *Parser) Parse(ctx context.Context, requirement string) ([]models.WatchRule, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, models.NewParseError(requirement, nil, "requirement is empty")
	}

	text, err := p.prompts.Construct(prompt.Parser, map[string]string{"requirement": requirement})
	if err != nil {
		return nil, fmt.Errorf("failed to build parser prompt: %w", err)
	}

	raw, err := p.llm.Complete(ctx, llm.Request{Prompt: text, JSONMode: true})
	if err != nil {
		return nil, models.NewParseError(requirement, err, "llm call failed")
	}
	logger.Debug("Parser raw output: %s", truncate(raw, 300))

	objects, err := decode(raw)
	if err != nil {
		return nil, models.NewParseError(requirement, err, "invalid llm json: "+truncate(raw, 300))
	}

	var rules []models.WatchRule
	for _, obj := range objects {
		rule, err := p.validateAndFix(obj)
		if err != nil {
			logger.Warn("Dropping unusable rule from parser output: %v", err)
			continue
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, models.NewParseError(requirement, nil,
			"no valid tickers parsed, please specify at least one ticker symbol")
	}
	return rules, nil
}

// decode extracts one or more JSON objects from raw model output. It accepts
// a bare object, an array of objects, or an object with a "rules" array, and
// tolerates surrounding prose or a code fence.
func decode(raw string) ([]map[string]interface{}, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, errors.New("no json found in output")
	}

	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case map[string]interface{}:
		if nested, ok := t["rules"].([]interface{}); ok {
			return objectsOf(nested)
		}
		return []map[string]interface{}{t}, nil
	case []interface{}:
		return objectsOf(t)
	default:
		return nil, errors.New("llm output is not a json object")
	}
}

func objectsOf(items []interface{}) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for _, it := range items {
		if obj, ok := it.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("llm output contains no json objects")
	}
	return out, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	if m := objectPattern.FindString(s); m != "" {
		return m
	}
	return arrayPattern.FindString(s)
}

func (p *Parser) validateAndFix(cfg map[string]interface{}) (models.WatchRule, error) {
	tickers := NormalizeTickers(stringSlice(cfg["tickers"]))
	if len(tickers) == 0 {
		return models.WatchRule{}, errors.New("no valid tickers")
	}

	threshold, ok := coerceThreshold(cfg["alert_threshold"])
	if !ok {
		threshold, ok = coerceThreshold(cfg["threshold_percent"])
	}
	if !ok || threshold <= 0 || threshold > maxThreshold {
		threshold = p.defaults.Threshold
	}

	channel := models.Channel(lowerString(firstPresent(cfg, "notify_method", "channel")))
	if !channel.Valid() {
		channel = models.ChannelConsole
	}

	language := lowerString(cfg["report_language"])
	if !allowedLanguages[language] {
		language = p.defaults.Language
	}

	style := lowerString(cfg["report_style"])
	if !allowedStyles[style] {
		style = "summary"
	}

	lookback, ok := coerceInt(cfg["lookback_days"])
	if !ok || lookback < 1 || lookback > 60 {
		lookback = defaultLookback
	}

	schedule := strings.TrimSpace(stringOf(cfg["schedule_time"]))
	if !models.IsValidScheduleTime(schedule) {
		schedule = defaultScheduleAt
	}

	mode := lowerString(cfg["schedule_mode"])
	if mode != models.ScheduleInterval {
		mode = models.ScheduleDaily
	}
	interval, _ := coerceInt(cfg["interval_minutes"])
	if mode == models.ScheduleInterval {
		if interval <= 0 || interval > 24*60 {
			interval = defaultIntervalMin
		}
	} else {
		interval = 0
	}

	tz := strings.TrimSpace(stringOf(cfg["timezone"]))
	if tz == "" {
		tz = p.defaults.Timezone
	} else if _, err := time.LoadLocation(tz); err != nil {
		tz = p.defaults.Timezone
	}

	rule := models.WatchRule{
		Tickers:          tickers,
		ThresholdPercent: threshold,
		Direction:        normalizeDirection(stringOf(cfg["direction"])),
		Channel:          channel,
		NewsEnabled:      coerceBool(cfg["news_enabled"], true),
		ReportLanguage:   language,
		ReportStyle:      style,
		LookbackDays:     lookback,
		ScheduleMode:     mode,
		ScheduleTime:     schedule,
		IntervalMinutes:  interval,
		Timezone:         tz,
	}
	if err := rule.Validate(); err != nil {
		return models.WatchRule{}, err
	}
	return rule, nil
}

// NormalizeTickers uppercases, strips and deduplicates symbols, keeping only
// simple alphanumerics with an optional class suffix such as BRK.B.
func NormalizeTickers(raw []string) []string {
	seen := make(map[string]bool)
	var cleaned []string
	for _, t := range raw {
		up := strings.ToUpper(strings.TrimSpace(t))
		if up == "" {
			continue
		}
		if !models.IsValidTicker(up) {
			up = strings.Trim(tickerStripper.ReplaceAllString(up, ""), ".")
			if !models.IsValidTicker(up) {
				continue
			}
		}
		if !seen[up] {
			seen[up] = true
			cleaned = append(cleaned, up)
		}
	}
	if len(cleaned) > models.MaxTickers {
		cleaned = cleaned[:models.MaxTickers]
	}
	return cleaned
}

func normalizeDirection(s string) models.Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "rise", "rises", "increase", "gain":
		return models.DirectionUp
	case "down", "drop", "drops", "fall", "falls", "decrease", "loss":
		return models.DirectionDown
	default:
		return models.DirectionEither
	}
}

func firstPresent(cfg map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := cfg[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, it := range t {
			out = append(out, stringOf(it))
		}
		return out
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	default:
		return nil
	}
}

func stringOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func lowerString(v interface{}) string {
	return strings.ToLower(strings.TrimSpace(stringOf(v)))
}

// coerceThreshold accepts numbers and strings like "4%". Non-finite values
// are rejected.
func coerceThreshold(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerceInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func coerceBool(v interface{}, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

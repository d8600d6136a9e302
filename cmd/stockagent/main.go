package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/stockagent/internal/agent"
	"github.com/rewired-gh/stockagent/internal/brief"
	"github.com/rewired-gh/stockagent/internal/config"
	"github.com/rewired-gh/stockagent/internal/llm"
	"github.com/rewired-gh/stockagent/internal/logger"
	"github.com/rewired-gh/stockagent/internal/market"
	"github.com/rewired-gh/stockagent/internal/metrics"
	"github.com/rewired-gh/stockagent/internal/models"
	"github.com/rewired-gh/stockagent/internal/notifier"
	"github.com/rewired-gh/stockagent/internal/parser"
	"github.com/rewired-gh/stockagent/internal/prompt"
	"github.com/rewired-gh/stockagent/internal/storage"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	watch      = flag.Bool("watch", false, "Keep running on the parsed rule's schedule")
	history    = flag.Int("history", 0, "Print the N most recent journaled decisions and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var logFile *logger.FileOutput
	if cfg.Logging.FilePath != "" {
		logFile = &logger.FileOutput{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, logFile)
	logger.Info("Configuration loaded from %s", *configPath)

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxRecords, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
	}

	if *history > 0 {
		if store == nil {
			logger.Fatal("History requires storage.enabled")
		}
		if err := printHistory(os.Stdout, store, *history); err != nil {
			logger.Fatal("Failed to read history: %v", err)
		}
		return
	}

	if err := cfg.ValidateLLM(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	requirement, err := readRequirement(flag.Args(), os.Stdin)
	if err != nil {
		logger.Fatal("No requirement given: %v", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.Timeout)
	if err != nil {
		logger.Fatal("Failed to initialize LLM client: %v", err)
	}
	prompts := prompt.NewCatalog(cfg.Prompts.Dir)

	marketClient := market.NewClient(
		cfg.Market.ChartAPIURL,
		cfg.Market.SearchAPIURL,
		market.ClientConfig{
			Timeout:        cfg.Market.Timeout,
			MaxRetries:     cfg.Market.MaxRetries,
			RequestSpacing: cfg.Market.RequestSpacing,
		},
	)

	var notifyOpts []notifier.Option
	if cfg.DiscordEnabled() {
		discord, err := notifier.NewDiscord(cfg.Discord.WebhookURL, cfg.Discord.MentionID, cfg.Discord.Username, cfg.Discord.Timeout)
		if err != nil {
			logger.Fatal("Failed to initialize Discord webhook: %v", err)
		}
		notifyOpts = append(notifyOpts, notifier.WithDiscord(discord))
	} else {
		logger.Debug("Discord webhook not configured, discord requests go to console")
	}
	if cfg.Telegram.Enabled {
		tg, err := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifyOpts = append(notifyOpts, notifier.WithTelegram(tg))
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	m := metrics.New(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)
	agentOpts := []agent.Option{
		agent.WithMetrics(m),
		agent.WithNewsLimit(cfg.Market.NewsLimit),
	}
	if store != nil {
		agentOpts = append(agentOpts, agent.WithJournal(store))
	}

	a := agent.New(
		parser.New(llmClient, prompts, parser.Defaults{
			Threshold: cfg.Rules.DefaultThreshold,
			Language:  cfg.Rules.DefaultLanguage,
			Timezone:  cfg.Rules.DefaultTimezone,
		}),
		marketClient,
		marketClient,
		brief.NewComposer(llmClient, prompts),
		notifier.New(notifyOpts...),
		agentOpts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := a.Run(ctx, requirement)
	pushMetrics(m)
	if err != nil {
		logger.Error("Run failed: %v", err)
		if state == nil || len(state.Rules) == 0 || !*watch {
			stop()
			os.Exit(1)
		}
	}
	if !*watch {
		return
	}

	if err := watchLoop(ctx, a, m, store, requirement, state.Rules); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Watch stopped: %v", err)
		stop()
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

// watchLoop reruns the parsed rules on the first rule's schedule until ctx ends.
func watchLoop(ctx context.Context, a *agent.Agent, m *metrics.Metrics, store *storage.Storage, requirement string, rules []models.WatchRule) error {
	consecutiveFailures := 0
	for {
		next := agent.NextRun(rules[0], time.Now())
		logger.Info("Next run %s (%s)", humanize.Time(next), next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		_, err := a.RunRules(ctx, requirement, rules)
		pushMetrics(m)
		if err != nil {
			consecutiveFailures++
			logger.Error("Scheduled run failed (%d in a row): %v", consecutiveFailures, err)
		} else {
			if consecutiveFailures > 0 {
				logger.Info("Recovered after %d failed runs", consecutiveFailures)
			}
			consecutiveFailures = 0
		}
		if store != nil {
			if err := store.Rotate(); err != nil {
				logger.Warn("Failed to rotate journal: %v", err)
			}
		}
	}
}

func pushMetrics(m *metrics.Metrics) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Push(ctx); err != nil {
		logger.Warn("%v", err)
	}
}

// readRequirement joins the arguments, or reads stdin when there are none.
func readRequirement(args []string, stdin io.Reader) (string, error) {
	if text := strings.TrimSpace(strings.Join(args, " ")); text != "" {
		return text, nil
	}
	fmt.Fprintln(os.Stderr, "I am a stock ticker monitor agent, how can I help you?")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if text := strings.TrimSpace(line); text != "" {
		return text, nil
	}
	return "", errors.New("empty requirement")
}

func printHistory(w io.Writer, store *storage.Storage, k int) error {
	records, err := store.RecentRuns(k)
	if err != nil {
		return err
	}
	for _, r := range records {
		mark := " "
		if r.Triggered {
			mark = "!"
		}
		fmt.Fprintf(w, "%s %-8s %10s %+7.2f%%  thr %.2f%% %-6s %s  %s\n",
			mark, r.Ticker, humanize.FormatFloat("#,###.##", r.Price), r.ChangePercent,
			r.Threshold, r.Direction, humanize.Time(r.CreatedAt), r.RunID)
	}
	return nil
}

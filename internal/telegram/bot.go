// Package telegram reports finished runs to a Telegram chat and answers a few
// commands about runs and pipelines.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxMessageLen = 4096

// Sender delivers messages. *telego.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Runs is the runner surface the bot commands use.
type Runs interface {
	Get(id string) (orchestrator.Snapshot, error)
	List() ([]orchestrator.Snapshot, error)
	SubmitSpec(spec pipeline.Spec, d pipeline.Defaults) (string, error)
}

type Bot struct {
	bot      *telego.Bot
	sender   Sender
	handler  *th.BotHandler
	runs     Runs
	catalog  *pipeline.Catalog
	defaults func() pipeline.Defaults
	cancel   context.CancelFunc

	mu  sync.RWMutex
	cfg config.TelegramConfig
}

func NewBot(cfg config.TelegramConfig, runs Runs, catalog *pipeline.Catalog, defaults func() pipeline.Defaults) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:      bot,
		sender:   bot,
		runs:     runs,
		catalog:  catalog,
		defaults: defaults,
		cfg:      cfg,
	}, nil
}

// UpdateConfig swaps the notification settings. The token is fixed.
func (b *Bot) UpdateConfig(cfg config.TelegramConfig) {
	b.mu.Lock()
	b.cfg.ChatID = cfg.ChatID
	b.cfg.NotifyOn = cfg.NotifyOn
	b.mu.Unlock()
}

func (b *Bot) config() config.TelegramConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

// OnRunFinished is registered as a runner finish listener. Delivery happens
// off the worker goroutine.
func (b *Bot) OnRunFinished(snap orchestrator.Snapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.Notify(ctx, snap); err != nil {
			slog.Error("telegram notification failed", "run", snap.ID, "error", err)
		}
	}()
}

// Notify sends a run summary if the run's status is one the chat wants.
func (b *Bot) Notify(ctx context.Context, snap orchestrator.Snapshot) error {
	cfg := b.config()
	if cfg.ChatID == 0 || !cfg.Notify(string(snap.Status)) {
		return nil
	}
	return b.SendMessage(ctx, cfg.ChatID, formatSummary(snap))
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	if allowed := b.config().ChatID; allowed != 0 && chatID != allowed {
		slog.Warn("ignoring telegram message from unknown chat", "chat_id", chatID)
		return
	}
	if msg.Text == "" {
		return
	}

	reply := b.command(msg.Text)
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram reply", "chat", chatID, "error", err)
	}
}

// command executes a bot command and returns the reply text.
func (b *Bot) command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}
	// Commands may be addressed as /cmd@botname.
	cmd, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	switch cmd {
	case "/runs":
		runs, err := b.runs.List()
		if err != nil {
			return "Error: " + err.Error()
		}
		if len(runs) == 0 {
			return "No runs."
		}
		var sb strings.Builder
		for i, r := range runs {
			if i == 10 {
				fmt.Fprintf(&sb, "… and %d more\n", len(runs)-10)
				break
			}
			fmt.Fprintf(&sb, "%s %s %s\n", statusIcon(r.Status), runLabel(r), r.ID)
		}
		return sb.String()

	case "/status":
		if len(args) != 1 {
			return "Usage: /status <run id>"
		}
		snap, err := b.runs.Get(args[0])
		if err != nil {
			return "Error: " + err.Error()
		}
		return formatSummary(snap)

	case "/run":
		if len(args) != 1 {
			return "Usage: /run <pipeline>"
		}
		spec, ok := b.catalog.Get(args[0])
		if !ok {
			return fmt.Sprintf("Unknown pipeline %q", args[0])
		}
		id, err := b.runs.SubmitSpec(spec, b.defaults())
		if err != nil {
			return "Error: " + err.Error()
		}
		return "Run submitted: " + id

	case "/pipelines":
		names := b.catalog.Names()
		if len(names) == 0 {
			return "No pipelines configured."
		}
		return strings.Join(names, "\n")

	default:
		return helpText
	}
}

const helpText = `Commands:
/runs - recent runs
/status <id> - run details
/run <pipeline> - start a configured pipeline
/pipelines - list configured pipelines`

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		msg := tu.Message(tu.ID(chatID), chunk)
		if _, err := b.sender.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xbghc/email-assistant/internal/action"
	"github.com/xbghc/email-assistant/internal/ai"
	"github.com/xbghc/email-assistant/internal/contextlog"
	"github.com/xbghc/email-assistant/internal/credential"
	"github.com/xbghc/email-assistant/internal/directory"
	"github.com/xbghc/email-assistant/internal/mail"
	"github.com/xbghc/email-assistant/internal/model"
	"github.com/xbghc/email-assistant/internal/router"
	"github.com/xbghc/email-assistant/internal/security"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config.yaml")
	setCred := flag.String("set-credential", "",
		"store a credential read from stdin (imap-password, smtp-password, provider-api-key) and exit")
	delCred := flag.String("delete-credential", "", "remove a stored credential and exit")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *setCred != "" || *delCred != "" {
		os.Exit(runCredentialCommand(*setCred, *delCred, logger))
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.AdminEmail == "" {
		logger.Error("admin_email is required in config")
		os.Exit(1)
	}

	ctx := context.Background()

	dir, err := directory.NewSQLiteDirectory(cfg.DBPath)
	if err != nil {
		logger.Error("open directory db", "error", err)
		os.Exit(1)
	}
	defer dir.Close()

	admin, err := dir.EnsureAdmin(ctx, cfg.AdminEmail)
	if err != nil {
		logger.Error("bootstrap admin", "error", err)
		os.Exit(1)
	}
	logger.Info("administrator ready", "email", admin.Email, "id", admin.ID)

	provider, err := buildProvider(cfg.AI)
	if err != nil {
		logger.Error("init provider", "error", err)
		os.Exit(1)
	}
	logger.Info("provider selected", "name", provider.Name(), "model", cfg.AI.Model)

	healthCtx, cancelHealth := context.WithTimeout(ctx, 15*time.Second)
	if !provider.HealthCheck(healthCtx) {
		logger.Warn("provider health check failed, continuing anyway",
			"name", provider.Name())
	}
	cancelHealth()

	store := contextlog.NewStore(
		cfg.Context.FilePath,
		time.Duration(cfg.Context.FlushDebounceMsec)*time.Millisecond,
		cfg.Context.CompressThreshold,
		cfg.Context.KeepRecentEntries,
		logger,
		contextlog.WithSummarizer(provider),
		contextlog.WithDefaultUser(admin.ID),
	)
	if err := store.Load(); err != nil {
		logger.Error("load context file", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("flush context file", "error", err)
		}
	}()

	sched := ai.NewScheduler(
		cfg.Scheduler.MaxConcurrent,
		time.Duration(cfg.Scheduler.GenTimeoutSec)*time.Second,
		time.Duration(cfg.Scheduler.ActionTimeoutSec)*time.Second,
		cfg.Scheduler.MaxRetries,
		logger,
	)

	registry := action.NewRegistry(logger)
	action.RegisterBuiltins(registry, dir, store)

	orch := ai.NewOrchestrator(provider, registry, sched, logger)

	smtpPassword := credential.GetOrEnv(credential.KeySMTPPassword, "ASSISTANT_SMTP_PASSWORD")
	sender := mail.NewSender(cfg.SMTP, smtpPassword, cfg.AdminEmail, logger)

	gate := security.NewGate(dir, security.DefaultViolationThreshold, logger)

	onSkip := func(userID string, skip model.ReminderSkip) {
		logger.Info("reminder skip signal",
			"user", userID,
			"skipMorning", skip.SkipMorning,
			"skipEvening", skip.SkipEvening,
			"reason", skip.Reason)
	}

	pipeline := router.New(dir, gate, orch, store, sender, onSkip, logger)

	imapPassword := credential.GetOrEnv(credential.KeyIMAPPassword, "ASSISTANT_IMAP_PASSWORD")
	ingestor := mail.NewIngestor(
		cfg.Mailbox,
		imapPassword,
		cfg.Mailbox.Username,
		dir,
		func(ctx context.Context, msg *model.IncomingMessage) {
			if _, err := pipeline.Handle(ctx, msg); err != nil {
				logger.Error("message handling failed",
					"messageId", msg.MessageID, "error", err)
			}
		},
		logger,
	)

	if err := ingestor.Start(ctx); err != nil {
		logger.Error("start ingestor", "error", err)
		os.Exit(1)
	}
	logger.Info("assistant running", "mailbox", cfg.Mailbox.Username)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	logger.Info("shutting down")
	ingestor.Stop()
}

// runCredentialCommand seeds or clears one keyring entry so the daemon
// can later resolve it without environment variables.
func runCredentialCommand(setKey, deleteKey string, logger *slog.Logger) int {
	switch {
	case setKey != "":
		if !credential.IsKnownKey(setKey) {
			logger.Error("unknown credential key",
				"key", setKey, "known", credential.KnownKeys())
			return 1
		}
		fmt.Fprintf(os.Stderr, "Value for %s: ", setKey)
		value, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			logger.Error("reading credential value", "error", err)
			return 1
		}
		value = strings.TrimSpace(value)
		if value == "" {
			logger.Error("empty credential value")
			return 1
		}
		if err := credential.Set(setKey, value); err != nil {
			logger.Error("storing credential", "key", setKey, "error", err)
			return 1
		}
		logger.Info("credential stored", "key", setKey)

	case deleteKey != "":
		if !credential.IsKnownKey(deleteKey) {
			logger.Error("unknown credential key",
				"key", deleteKey, "known", credential.KnownKeys())
			return 1
		}
		if err := credential.Delete(deleteKey); err != nil {
			logger.Error("deleting credential", "key", deleteKey, "error", err)
			return 1
		}
		logger.Info("credential deleted", "key", deleteKey)
	}
	return 0
}

// buildProvider selects the configured backend once at startup.
func buildProvider(cfg model.AIConfig) (ai.Provider, error) {
	apiKey := credential.GetOrEnv(credential.KeyProviderAPI, "ASSISTANT_PROVIDER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("no provider API key in keyring or ASSISTANT_PROVIDER_API_KEY")
	}

	switch cfg.Provider {
	case "anthropic":
		return ai.NewAnthropicProvider(apiKey, cfg.Model, cfg.MaxTokens, cfg.BaseURL), nil
	case "openai":
		return ai.NewOpenAIProvider(apiKey, cfg.Model, cfg.MaxTokens, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

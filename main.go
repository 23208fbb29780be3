package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathakanu/medimate/internal/api"
	"github.com/pathakanu/medimate/internal/chat"
	"github.com/pathakanu/medimate/internal/config"
	"github.com/pathakanu/medimate/internal/kv"
	"github.com/pathakanu/medimate/internal/logger"
	"github.com/pathakanu/medimate/internal/notify"
	"github.com/pathakanu/medimate/internal/reminder"
	"github.com/pathakanu/medimate/internal/scheduler"
	"github.com/pathakanu/medimate/internal/speech"
	"github.com/pathakanu/medimate/internal/twilio"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	log := logger.New(cfg.Log.Level)
	for _, warning := range cfg.Warnings {
		log.Warn(warning)
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx := context.Background()
	blobs, err := kv.Open(ctx, cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("storage init failed")
	}
	defer blobs.Close()

	store := reminder.NewStore(blobs, log)
	defer store.Close()

	gateway := notify.NewLocalGateway(newSender(cfg, log), cfg.LocalTimezone, cfg.Notify.RatePerSecond, cfg.Notify.Burst, log)
	if cfg.Notify.TriggerMode == config.TriggerUnified {
		gateway.OnDelivered = store.RecordDelivery
	}
	gateway.Start()
	// A denial is logged inside the gateway; reminders still save without notifications.
	_ = gateway.Authorize(ctx)

	reminders := reminder.NewService(store, gateway, cfg.Notify.TriggerMode, cfg.LocalTimezone, log)
	poller := scheduler.New(store, gateway, cfg.Scheduler.Mode, cfg.PollInterval(), cfg.LocalTimezone, log)
	session := chat.NewSession(newProvider(cfg), newTranscriber(cfg), blobs, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.New(reminders, poller, session, cfg.LocalTimezone, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	waitForShutdown(server, poller, gateway, log)
}

func newSender(cfg *config.Config, log *logrus.Logger) notify.Sender {
	if cfg.Twilio.AccountSID == "" {
		log.Info("twilio not configured, notifications are written to the log")
		return notify.LogSender{Log: log}
	}
	return twilio.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.WhatsAppNumber, cfg.Notify.Recipient, log)
}

func newProvider(cfg *config.Config) chat.Provider {
	if cfg.Chat.Provider == config.ProviderOpenAI {
		return chat.NewOpenAIClient(cfg.Chat.OpenAIAPIKey, cfg.ChatTimeout())
	}
	return chat.NewGeminiClient(cfg.Chat.GeminiURL, cfg.Chat.GeminiModel, cfg.Chat.GeminiAPIKey, cfg.ChatTimeout())
}

func newTranscriber(cfg *config.Config) chat.Transcriber {
	if cfg.Speech.APIKey == "" {
		return nil
	}
	return speech.New(speech.Config{
		URL:          cfg.Speech.URL,
		APIKey:       cfg.Speech.APIKey,
		Encoding:     cfg.Speech.Encoding,
		SampleRate:   cfg.Speech.SampleRate,
		LanguageCode: cfg.Speech.LanguageCode,
		Timeout:      cfg.ChatTimeout(),
	})
}

func waitForShutdown(server *http.Server, poller *scheduler.Poller, gateway *notify.LocalGateway, log *logrus.Logger) {
	stopCtx := make(chan os.Signal, 1)
	signal.Notify(stopCtx, syscall.SIGINT, syscall.SIGTERM)
	<-stopCtx
	log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
	poller.Deactivate()
	gateway.Stop()
}

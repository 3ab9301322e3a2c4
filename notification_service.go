package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const chatIDFile = "chat_id.txt"

// NotificationService is the Telegram notification sink, adapted from the
// teacher's notification_service.go: the approval-button flow is dropped
// (this engine fires entries automatically per spec.md §4.5, there is
// nothing to approve) in favour of the command surface (/status, /start,
// /stop, /report) that mirrors the HTTP control surface over chat.
type NotificationService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewNotificationService initializes the Telegram bot; returns nil (a
// valid, silently-no-op Notifier) if no token is configured.
func NewNotificationService(token, channelID string) *NotificationService {
	if token == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not configured. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Warn().Err(err).Msg("failed to init telegram bot")
		return nil
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")

	ns := &NotificationService{bot: bot}

	if channelID != "" {
		if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
			ns.chatID = id
		}
	}
	if ns.chatID == 0 {
		ns.chatID = ns.loadChatID()
	}
	if ns.chatID != 0 {
		log.Info().Int64("chat_id", ns.chatID).Msg("loaded persistent telegram chat id")
	}
	return ns
}

func (ns *NotificationService) loadChatID() int64 {
	data, err := os.ReadFile(chatIDFile)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (ns *NotificationService) saveChatID(id int64) {
	if err := os.WriteFile(chatIDFile, []byte(fmt.Sprintf("%d", id)), 0644); err != nil {
		log.Warn().Err(err).Msg("failed to persist telegram chat id")
	}
}

// StartEventListener polls updates, auto-captures the chat id from the
// first inbound message, and dispatches the control commands.
func (ns *NotificationService) StartEventListener(statusCallback, reportCallback func() string, startCallback func() error, stopCallback func()) {
	log.Info().Msg("telegram: listening for events")
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := ns.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}

		if ns.chatID == 0 {
			ns.chatID = update.Message.Chat.ID
			ns.saveChatID(ns.chatID)
			log.Info().Int64("chat_id", ns.chatID).Msg("telegram chat id captured")
		}

		switch update.Message.Command() {
		case "status":
			if statusCallback != nil {
				ns.Notify(statusCallback())
			}
		case "report":
			if reportCallback != nil {
				ns.Notify(reportCallback())
			}
		case "start":
			if startCallback != nil {
				if err := startCallback(); err != nil {
					ns.Notify(fmt.Sprintf("⚠️ start failed: %v", err))
				}
			}
		case "stop":
			ns.Notify("🛑 manual stop requested via telegram")
			if stopCallback != nil {
				stopCallback()
			}
		}
	}
}

// Notify sends a fire-and-forget Markdown message. Nil-safe.
func (ns *NotificationService) Notify(text string) {
	if ns == nil || ns.bot == nil || ns.chatID == 0 {
		return
	}
	go func() {
		msg := tgbotapi.NewMessage(ns.chatID, text)
		msg.ParseMode = "Markdown"
		if _, err := ns.bot.Send(msg); err != nil {
			log.Warn().Err(err).Msg("telegram: send failed")
		}
	}()
}

// NotifyFile ships a blob (e.g. a log excerpt) straight to the configured
// channel, per SPEC_FULL.md §6's "optional file blobs" requirement.
func (ns *NotificationService) NotifyFile(blob []byte, filename, caption string) {
	if ns == nil || ns.bot == nil || ns.chatID == 0 {
		return
	}
	go func() {
		file := tgbotapi.FileBytes{Name: filename, Bytes: blob}
		doc := tgbotapi.NewDocument(ns.chatID, file)
		doc.Caption = caption
		if _, err := ns.bot.Send(doc); err != nil {
			log.Warn().Err(err).Msg("telegram: send file failed")
		}
	}()
}

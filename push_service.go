package main

import (
	"context"
	"os"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// PushService is the optional secondary notification sink, adapted from
// the teacher's push_service.go: the whale-alert-specific payload is
// replaced by a generic trade-event push (entry/target/stop-loss/
// square-off), gated the same way — an unset or missing credentials file
// disables it entirely rather than failing boot.
type PushService struct {
	client *messaging.Client
	topic  string
	queue  chan pushMessage
}

type pushMessage struct {
	Title string
	Body  string
}

// NewPushService returns nil (a no-op Notifier) if credFile doesn't exist
// or Firebase init fails — push is always best-effort.
func NewPushService(credFile string) *PushService {
	if credFile == "" {
		return nil
	}
	if _, err := os.Stat(credFile); os.IsNotExist(err) {
		log.Warn().Str("file", credFile).Msg("firebase credentials not found, push disabled")
		return nil
	}

	app, err := firebase.NewApp(context.Background(), nil, option.WithCredentialsFile(credFile))
	if err != nil {
		log.Warn().Err(err).Msg("firebase: init failed")
		return nil
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("firebase: messaging client init failed")
		return nil
	}

	log.Info().Msg("firebase push service initialized")
	return &PushService{
		client: client,
		topic:  "SHORTBREAK_EVENTS",
		queue:  make(chan pushMessage, 500),
	}
}

// StartWorker drains the push queue and sends synchronously, the same
// throughput-management shape as the teacher's worker.
func (ps *PushService) StartWorker() {
	for msg := range ps.queue {
		message := &messaging.Message{
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Topic:        ps.topic,
		}
		if _, err := ps.client.Send(context.Background(), message); err != nil {
			log.Warn().Err(err).Msg("firebase: send failed")
		}
	}
}

// Notify enqueues a non-blocking push; drops and logs if the queue is
// full rather than block the caller, same discipline as the teacher's
// SendWhaleAlert.
func (ps *PushService) Notify(text string) {
	if ps == nil {
		return
	}
	select {
	case ps.queue <- pushMessage{Title: "shortbreak", Body: text}:
	default:
		log.Warn().Msg("firebase: push queue full, dropping")
	}
}

// NotifyFile is a no-op for push — FCM has no file-attachment concept;
// the Telegram sink is the one that ships file blobs.
func (ps *PushService) NotifyFile(blob []byte, filename, caption string) {}

package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TelegramSink is an optional Bus sink that forwards events to a Telegram
// chat via the Bot API, grounded on the teacher's telegram/notifications
// package. It is the one concrete sink this repo ships; everything else
// behind the Bus (uploaders, HTTP dashboards) is an external collaborator
// per the Bus's scope.
type TelegramSink struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramSink returns a sink that silently no-ops if either credential
// is empty, so wiring it unconditionally into a Bus is always safe.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Sink adapts TelegramSink to the bus.Sink signature. The send happens on a
// detached goroutine so a slow or unreachable Telegram endpoint never blocks
// the publisher.
func (t *TelegramSink) Sink() Sink {
	return func(event Event) {
		if t.botToken == "" || t.chatID == "" {
			return
		}
		go t.send(formatEvent(event))
	}
}

func formatEvent(event Event) string {
	msg := fmt.Sprintf("[%s]", event.Name)
	for k, v := range event.Payload {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	return msg
}

func (t *TelegramSink) send(text string) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		log.Printf("telegram sink: marshal failed: %v", err)
		return
	}

	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("telegram sink: send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("telegram sink: non-2xx response %d", resp.StatusCode)
	}
}

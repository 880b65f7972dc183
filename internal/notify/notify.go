// Package notify delivers human-readable alerts. Delivery is fire-and-forget
// with timeouts; a dead notification channel must never stall the trading
// loop.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quantavn/ai-futures-bot/internal/logger"
)

// Notifier is the alerting contract the controller consumes.
type Notifier interface {
	Send(text string)
	SendTradeAlert(text string)
	SendError(text string)
}

// Telegram posts messages to a Telegram chat via the bot API.
type Telegram struct {
	token   string
	chatID  string
	client  *http.Client
	log     *logger.Logger
	baseURL string
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(token, chatID string, log *logger.Logger) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("notify"),
		baseURL: "https://api.telegram.org",
	}
}

// Send posts a plain message. Failures are logged only.
func (t *Telegram) Send(text string) {
	t.post(text)
}

// SendTradeAlert posts a trade notification.
func (t *Telegram) SendTradeAlert(text string) {
	t.post("📊 " + text)
}

// SendError posts an error notification.
func (t *Telegram) SendError(text string) {
	t.post("🚨 " + text)
}

func (t *Telegram) post(text string) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	}

	resp, err := t.client.Post(endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		t.log.Warnf("telegram send failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.log.Warnf("telegram send rejected: status=%d %s", resp.StatusCode, body.Description)
	}
}

// Nop discards all notifications. Used in simulation and tests.
type Nop struct{}

func (Nop) Send(string)           {}
func (Nop) SendTradeAlert(string) {}
func (Nop) SendError(string)      {}

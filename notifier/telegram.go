package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// telegramMaxText is the Bot API limit on sendMessage text, in characters.
const telegramMaxText = 4096

// TelegramChannel posts digests to an operator chat through the Bot API.
// It does not retry; a failed send is reported to the dispatcher.
type TelegramChannel struct {
	baseURL string
	token   string
	chatId  string
	http    *http.Client
	limiter *rate.Limiter
}

type telegramSendMessage struct {
	ChatId                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramChannelFromEnv reads TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID and
// optionally TELEGRAM_API_BASE_URL / TELEGRAM_RATE_LIMIT_PER_MIN.
func NewTelegramChannelFromEnv() (*TelegramChannel, error) {
	baseURL := strings.TrimSpace(os.Getenv("TELEGRAM_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	ratePerMin := int64(20)
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_RATE_LIMIT_PER_MIN")); v != "" {
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil && n > 0 {
			ratePerMin = n
		}
	}
	return NewTelegramChannel(baseURL, os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"), ratePerMin)
}

func NewTelegramChannel(baseURL, token, chatId string, ratePerMin int64) (*TelegramChannel, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if strings.TrimSpace(chatId) == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if ratePerMin <= 0 {
		ratePerMin = 20
	}
	return &TelegramChannel{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatId:  chatId,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), 1),
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Send posts the digest, split into several messages when it exceeds the
// Bot API text limit. It fails on the first part that is not accepted.
func (c *TelegramChannel) Send(ctx context.Context, digest *Digest) error {
	parts := digest.TextParts(telegramMaxText)
	for i, text := range parts {
		if err := c.sendMessage(ctx, text); err != nil {
			if len(parts) > 1 {
				return fmt.Errorf("part %d/%d: %w", i+1, len(parts), err)
			}
			return err
		}
	}
	return nil
}

func (c *TelegramChannel) sendMessage(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(telegramSendMessage{
		ChatId:                c.chatId,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var parsed telegramResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("telegram response: %w", err)
	}
	if !parsed.Ok {
		return fmt.Errorf("telegram api rejected message: %s", parsed.Description)
	}
	return nil
}

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"vigil/internal/frame"
)

// Bot sends detection alerts to a Telegram chat
type Bot struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client

	mu             sync.Mutex
	enabled        bool
	lastAlert      time.Time
	cooldownPeriod time.Duration
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken        string
	ChatID          string
	Enabled         bool
	CooldownSeconds int
}

// telegramResponse is the envelope every Bot API call returns
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// ValidateConfig checks a bot configuration before use
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}
	return nil
}

// NewBot creates a bot from configuration
func NewBot(config Config) *Bot {
	cooldown := time.Duration(config.CooldownSeconds) * time.Second
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	return &Bot{
		botToken:       config.BotToken,
		chatID:         config.ChatID,
		baseURL:        "https://api.telegram.org",
		enabled:        config.Enabled,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		cooldownPeriod: cooldown,
	}
}

// IsEnabled returns whether the bot sends alerts
func (b *Bot) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled enables or disables alert delivery
func (b *Bot) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// SendDetectionAlert sends an alert for a detection event, attaching the
// annotated frame as a photo when available. Alerts inside the cooldown
// window are dropped silently; a burst of triggers produces one message.
func (b *Bot) SendDetectionAlert(ctx context.Context, method string, classes []string, annotated *frame.Frame) error {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return nil
	}
	if time.Since(b.lastAlert) < b.cooldownPeriod {
		b.mu.Unlock()
		return nil
	}
	if b.botToken == "" || b.chatID == "" {
		b.mu.Unlock()
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}
	b.lastAlert = time.Now()
	b.mu.Unlock()

	now := time.Now()
	zoneName, _ := now.Zone()
	message := fmt.Sprintf(
		"🚨 <b>Motion Detected</b>\n\n"+
			"🔍 Method: %s\n"+
			"🕐 Time: %s %s",
		method,
		now.Format("2 Jan 2006, 15:04:05"), zoneName,
	)
	if len(classes) > 0 {
		message += fmt.Sprintf("\n🎯 Objects: %s", strings.Join(classes, ", "))
	}

	if annotated != nil {
		var jpg bytes.Buffer
		if err := jpeg.Encode(&jpg, annotated.ToImage(), &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to encode alert frame: %w", err)
		}
		return b.sendPhoto(ctx, jpg.Bytes(), message)
	}
	return b.sendMessage(ctx, message)
}

// SendTestMessage verifies the bot configuration end to end
func (b *Bot) SendTestMessage(ctx context.Context) error {
	now := time.Now()
	zoneName, _ := now.Zone()
	message := fmt.Sprintf(
		"🤖 <b>Vigil Test Message</b>\n\n"+
			"✅ Telegram bot is working correctly!\n"+
			"🕐 Test sent at: %s %s",
		now.Format("2 Jan 2006, 15:04:05"), zoneName,
	)
	return b.sendMessage(ctx, message)
}

func (b *Bot) sendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func (b *Bot) sendPhoto(ctx context.Context, photoData []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "detection_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", b.baseURL, b.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram API error %d: %s", tr.ErrorCode, tr.Description)
	}
	return nil
}

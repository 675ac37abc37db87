package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultLineAPIBase = "https://api.line.me"
	defaultLineTimeout = 10 * time.Second
)

// LineClient talks to the LINE Messaging API with a channel access token.
type LineClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Log     *zap.Logger
}

func NewLineClient(baseURL, token string, log *zap.Logger) *LineClient {
	if baseURL == "" {
		baseURL = DefaultLineAPIBase
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LineClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: defaultLineTimeout},
		Log:     log,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

func (c *LineClient) Push(ctx context.Context, to, text string) bool {
	err := c.post(ctx, "/v2/bot/message/push", pushRequest{To: to, Messages: []textMessage{{Type: "text", Text: text}}})
	if err != nil {
		c.Log.Warn("line push failed", zap.String("to", to), zap.Error(err))
		return false
	}
	return true
}

func (c *LineClient) Reply(ctx context.Context, replyToken, text string) bool {
	err := c.post(ctx, "/v2/bot/message/reply", replyRequest{ReplyToken: replyToken, Messages: []textMessage{{Type: "text", Text: text}}})
	if err != nil {
		c.Log.Warn("line reply failed", zap.Error(err))
		return false
	}
	return true
}

func (c *LineClient) post(ctx context.Context, path string, body any) error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("channel access token is not set")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultLineTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// VerifySignature checks an X-Line-Signature header: the base64 HMAC-SHA256
// of the raw body keyed by the channel secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the signature LINE would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WebhookBody is the payload LINE posts to the webhook URL.
type WebhookBody struct {
	Destination string         `json:"destination,omitempty"`
	Events      []WebhookEvent `json:"events"`
}

type WebhookEvent struct {
	Type       string        `json:"type"`
	ReplyToken string        `json:"replyToken,omitempty"`
	Timestamp  int64         `json:"timestamp,omitempty"`
	Source     EventSource   `json:"source"`
	Message    *EventMessage `json:"message,omitempty"`
}

type EventSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (WebhookBody, error) {
	var wb WebhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return wb, fmt.Errorf("invalid webhook body: %w", err)
	}
	return wb, nil
}

package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jwalitptl/messaging-api/internal/model"
	"github.com/jwalitptl/messaging-api/pkg/circuitbreaker"
	"github.com/jwalitptl/messaging-api/pkg/transport"
)

const defaultBaseURL = "https://graph.facebook.com/v20.0"

type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client sends WhatsApp Cloud API messages (Meta Graph). Tokens never make it
// into logs or stored errors.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
}

// payload shape for kind=wa_message items.
type message struct {
	PhoneNumberID string          `json:"phone_number_id"`
	To            string          `json:"to"`
	Type          string          `json:"type"`
	Text          json.RawMessage `json:"text,omitempty"`
	Template      json.RawMessage `json:"template,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "whatsapp-api",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	})

	return &Client{
		baseURL:     strings.TrimRight(base, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		cb:          cb,
	}
}

func (c *Client) Send(ctx context.Context, item *model.OutboxItem) (*transport.SendResult, error) {
	var msg message
	if err := json.Unmarshal(item.Payload, &msg); err != nil {
		return nil, transport.NewPermanent("invalid_payload", fmt.Sprintf("malformed wa_message payload: %v", err))
	}
	if msg.PhoneNumberID == "" || msg.To == "" {
		return nil, transport.NewPermanent("invalid_payload", "wa_message payload missing phone_number_id or to")
	}

	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                msg.To,
		"type":              msg.Type,
	}
	if msg.Text != nil {
		body["text"] = json.RawMessage(msg.Text)
	}
	if msg.Template != nil {
		body["template"] = json.RawMessage(msg.Template)
	}

	var result *transport.SendResult
	err := c.cb.Execute(func() error {
		var sendErr error
		result, sendErr = c.post(ctx, msg.PhoneNumberID, body)
		return sendErr
	})
	return result, err
}

func (c *Client) post(ctx context.Context, phoneNumberID string, body map[string]interface{}) (*transport.SendResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, transport.NewPermanent("marshal", err.Error())
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network errors and timeouts are retryable by classification default
		return nil, err
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode < 300 {
		return nil, transport.NewRetryable("decode", err.Error())
	}

	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, &decoded)
	}

	messageID := ""
	if len(decoded.Messages) > 0 {
		messageID = decoded.Messages[0].ID
	}
	return &transport.SendResult{MessageID: messageID}, nil
}

// classifyStatus maps Graph API failures onto the retry taxonomy: remote rate
// limiting and server errors heal with time, validation rejections do not.
func classifyStatus(status int, resp *sendResponse) *transport.Error {
	msg := fmt.Sprintf("whatsapp api returned %d", status)
	if resp.Error != nil {
		msg = fmt.Sprintf("whatsapp api error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return transport.NewRetryable("remote_throttled", msg)
	case status >= 500:
		return transport.NewRetryable("remote_unavailable", msg)
	default:
		return transport.NewPermanent("rejected", msg)
	}
}

// VerifyWebhookSignature checks the X-Hub-Signature-256 header on inbound
// status callbacks.
func VerifyWebhookSignature(payload []byte, signatureHeader, appSecret string) bool {
	method, hexdigest, found := strings.Cut(signatureHeader, "=")
	if !found || !strings.EqualFold(method, "sha256") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(hexdigest))
}

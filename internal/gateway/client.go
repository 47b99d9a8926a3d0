package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotConfigured = errors.New("payment gateway is not configured")
	ErrGateway       = errors.New("payment gateway request failed")
)

// SessionRequest carries everything the gateway needs to open a checkout
// session. PersonalInfo is echoed back verbatim on the webhook and is our
// only correlation channel, so it must carry the internal ids.
type SessionRequest struct {
	Amount        int64
	Article       string
	CustomerName  string
	CustomerPhone string
	PersonalInfo  PersonalInfo
}

// SessionResult is the gateway's answer: a checkout URL the payer is
// redirected to, plus the gateway's own transaction token when provided.
type SessionResult struct {
	PaymentURL string
	Token      string
}

type Config struct {
	URL        string // session creation endpoint
	APIKey     string
	ReturnURL  string
	WebhookURL string
}

// Client talks to the mobile-money gateway over HTTPS.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log.With().Str("component", "gateway").Logger(),
	}
}

// Configured reports whether payment sessions can be created at all.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.URL) != "" && strings.TrimSpace(c.cfg.WebhookURL) != ""
}

type sessionPayload struct {
	TotalPrice   int64            `json:"totalPrice"`
	Article      []map[string]any `json:"article"`
	PersonalInfo []PersonalInfo   `json:"personal_Info"`
	NumeroSend   string           `json:"numeroSend"`
	NomClient    string           `json:"nomclient"`
	ReturnURL    string           `json:"return_url"`
	WebhookURL   string           `json:"webhook_url"`
}

type sessionResponse struct {
	Statut  bool   `json:"statut"`
	Token   string `json:"token"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// CreatePaymentSession opens a checkout session and returns the payment URL.
func (c *Client) CreatePaymentSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := sessionPayload{
		TotalPrice: req.Amount,
		Article: []map[string]any{
			{req.Article: req.Amount},
		},
		PersonalInfo: []PersonalInfo{req.PersonalInfo},
		NumeroSend:   req.CustomerPhone,
		NomClient:    req.CustomerName,
		ReturnURL:    c.cfg.ReturnURL,
		WebhookURL:   c.cfg.WebhookURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("gateway rejected session creation")
		return nil, fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if !parsed.Statut || parsed.URL == "" {
		c.log.Error().Str("message", parsed.Message).Msg("gateway returned no payment url")
		return nil, fmt.Errorf("%w: %s", ErrGateway, parsed.Message)
	}

	return &SessionResult{
		PaymentURL: parsed.URL,
		Token:      parsed.Token,
	}, nil
}

package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ipproof-backend/internal/common/logger"
)

const defaultAPIURL = "https://api.telegram.org"

type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	logger     zerolog.Logger
}

// Response is the envelope of every Bot API reply.
type Response struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is returned when the Bot API answers ok=false.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

type Option func(*Client)

// WithAPIURL points the client at a different Bot API host.
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		apiURL: defaultAPIURL,
		token:  token,
		logger: logger.With("telegram"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a bot token is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.token != ""
}

// SendMessage sends an HTML-formatted message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if !c.Enabled() {
		return fmt.Errorf("telegram bot token is not configured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token)
	params := url.Values{
		"chat_id":                  {strconv.FormatInt(chatID, 10)},
		"text":                     {text},
		"parse_mode":               {"HTML"},
		"disable_web_page_preview": {"true"},
	}

	var response Response
	if err := c.makeRequest(ctx, endpoint, params, &response); err != nil {
		c.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
		return err
	}
	if !response.Ok {
		return &APIError{Code: response.ErrorCode, Description: response.Description}
	}

	c.logger.Debug().Int64("chat_id", chatID).Msg("Message sent")
	return nil
}

// ConfirmationMessage renders the notification sent when a proof is anchored.
func ConfirmationMessage(fileName, fileHash string, blockHeight int64, verifyURL string) string {
	var b strings.Builder
	b.WriteString("✅ <b>Your proof is confirmed on Bitcoin</b>\n\n")
	fmt.Fprintf(&b, "📄 File: %s\n", html.EscapeString(fileName))
	fmt.Fprintf(&b, "🔑 Hash: <code>%s</code>\n", fileHash)
	fmt.Fprintf(&b, "⛓ Block: %d\n", blockHeight)
	if verifyURL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Verify proof</a>", html.EscapeString(verifyURL))
	}
	return b.String()
}

func (c *Client) makeRequest(ctx context.Context, endpoint string, data url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

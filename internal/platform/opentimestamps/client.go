package opentimestamps

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"ipproof-backend/internal/common/logger"
)

const (
	acceptHeader    = "application/vnd.opentimestamps.v1"
	maxResponseSize = 10000
	defaultTimeout  = 10 * time.Second
)

var calendarAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ipproof_calendar_attempts_total",
	Help: "Calendar requests by calendar host, operation and outcome.",
}, []string{"calendar", "op", "outcome"})

// Outcome classifies a single calendar request.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMalformed Outcome = "malformed"
	// Calendar does not have a more complete proof yet
	OutcomeNotReady Outcome = "not_ready"
	// Body exceeded maxResponseSize
	OutcomeTooLarge Outcome = "too_large"
	// Pending attestation URI is not an allowed calendar
	OutcomeNotAllowed Outcome = "not_allowed"
)

// DefaultUpgradeWhitelist lists the calendar servers the public aggregation
// pools hand out in pending attestations. A leading "*." matches any subdomain.
var DefaultUpgradeWhitelist = []string{
	"https://*.calendar.opentimestamps.org",
	"https://*.calendar.eternitywall.com",
	"https://*.calendar.catallaxy.com",
}

// Attempt records one calendar request.
type Attempt struct {
	Calendar   string
	Outcome    Outcome
	StatusCode int
	Duration   time.Duration
	Err        error
}

// SubmitResult is the outcome of Submit. Proof is nil when every calendar failed.
type SubmitResult struct {
	Proof    []byte
	Calendar string
	Attempts []Attempt
}

// OK reports whether a calendar accepted the digest.
func (r SubmitResult) OK() bool {
	return r.Proof != nil
}

// BitcoinAnchor describes the Bitcoin attestation found in a proof.
type BitcoinAnchor struct {
	BlockHeight uint64
	// Block merkle root in explorer byte order
	MerkleRoot string
	// Empty when the proof path carries no recognisable transaction
	TxID string
}

// UpgradeResult is the outcome of Upgrade.
type UpgradeResult struct {
	// Proof is the re-serialized detached proof, set whenever Upgraded is true
	Proof    []byte
	Upgraded bool
	Bitcoin  *BitcoinAnchor
	Attempts []Attempt
}

// ErrAllCalendarsFailed is returned by Submit when no calendar accepted the digest.
var ErrAllCalendarsFailed = errors.New("all calendars failed")

// Client talks to OpenTimestamps calendar servers.
type Client struct {
	httpClient *http.Client
	calendars  []string
	whitelist  []*url.URL
	timeout    time.Duration
	logger     zerolog.Logger
}

type Option func(*Client)

// WithUpgradeWhitelist replaces DefaultUpgradeWhitelist. The configured
// calendars are always allowed.
func WithUpgradeWhitelist(patterns ...string) Option {
	return func(c *Client) { c.whitelist = parsePatterns(patterns) }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client that submits to calendars in order, giving
// each at most timeout.
func NewClient(calendars []string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cals := make([]string, 0, len(calendars))
	for _, cal := range calendars {
		cals = append(cals, strings.TrimRight(cal, "/"))
	}
	c := &Client{
		httpClient: &http.Client{},
		calendars:  cals,
		whitelist:  parsePatterns(DefaultUpgradeWhitelist),
		timeout:    timeout,
		logger:     logger.With("opentimestamps"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.whitelist = append(c.whitelist, parsePatterns(cals)...)
	return c
}

func parsePatterns(patterns []string) []*url.URL {
	out := make([]*url.URL, 0, len(patterns))
	for _, p := range patterns {
		u, err := url.Parse(strings.TrimRight(strings.TrimSpace(p), "/"))
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}

// allowedUpgradeURI reports whether a pending attestation URI may be
// contacted: same scheme and host (or subdomain for "*." patterns) as a
// whitelist entry, no credentials, no query.
func (c *Client) allowedUpgradeURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, p := range c.whitelist {
		if p.Scheme != u.Scheme {
			continue
		}
		pattern := strings.ToLower(p.Host)
		if suffix, ok := strings.CutPrefix(pattern, "*"); ok {
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

// Calendars returns the configured calendar URLs.
func (c *Client) Calendars() []string {
	return append([]string(nil), c.calendars...)
}

// Submit sends digest to the calendars in order and returns the first
// successful proof as a detached .ots file. Calendar failures are reported
// in the result; only a cancelled ctx or a total failure return an error.
func (c *Client) Submit(ctx context.Context, digest []byte) (SubmitResult, error) {
	var res SubmitResult
	if len(digest) != 32 {
		return res, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	for _, cal := range c.calendars {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		body, attempt := c.do(ctx, "submit", http.MethodPost, cal+"/digest", digest)
		attempt.Calendar = cal
		if attempt.Outcome == OutcomeSuccess {
			t, err := ParseTimestamp(body, digest)
			if err != nil {
				attempt.Outcome = OutcomeMalformed
				attempt.Err = err
			} else {
				proof, err := NewDetached(digest, t).Serialize()
				if err != nil {
					attempt.Outcome = OutcomeMalformed
					attempt.Err = err
				} else {
					c.record(&res.Attempts, "submit", attempt)
					res.Proof = proof
					res.Calendar = cal
					return res, nil
				}
			}
		}
		c.record(&res.Attempts, "submit", attempt)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, ErrAllCalendarsFailed
}

// Upgrade asks each pending calendar in proof for a more complete timestamp,
// merges whatever comes back and reports the Bitcoin attestation if one is
// present afterwards. A malformed stored proof is an error; calendar
// failures only show up in Attempts.
func (c *Client) Upgrade(ctx context.Context, proof []byte) (UpgradeResult, error) {
	var res UpgradeResult

	dt, err := ParseDetached(proof)
	if err != nil {
		return res, err
	}

	if len(dt.Timestamp.BitcoinAttestations()) == 0 {
		for _, p := range dt.Timestamp.PendingAttestations() {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			changed, attempt := c.upgradeNode(ctx, p)
			c.record(&res.Attempts, "upgrade", attempt)
			res.Upgraded = res.Upgraded || changed
		}
	}

	if res.Upgraded {
		if res.Proof, err = dt.Serialize(); err != nil {
			return res, err
		}
	}

	res.Bitcoin = lowestBitcoinAnchor(dt.Timestamp)
	return res, nil
}

func (c *Client) upgradeNode(ctx context.Context, p AttestationAt) (bool, Attempt) {
	uri := strings.TrimRight(p.Attestation.URI, "/")
	if !c.allowedUpgradeURI(uri) {
		return false, Attempt{Calendar: uri, Outcome: OutcomeNotAllowed, Err: fmt.Errorf("calendar uri %q is not whitelisted", uri)}
	}

	body, attempt := c.do(ctx, "upgrade", http.MethodGet, uri+"/timestamp/"+hex.EncodeToString(p.Node.Msg), nil)
	attempt.Calendar = uri
	if attempt.Outcome != OutcomeSuccess {
		return false, attempt
	}

	upgraded, err := ParseTimestamp(body, p.Node.Msg)
	if err != nil {
		attempt.Outcome = OutcomeMalformed
		attempt.Err = err
		return false, attempt
	}
	changed, err := p.Node.Merge(upgraded)
	if err != nil {
		attempt.Outcome = OutcomeMalformed
		attempt.Err = err
		return false, attempt
	}
	return changed, attempt
}

func (c *Client) do(ctx context.Context, op, method, target string, payload []byte) ([]byte, Attempt) {
	attempt := Attempt{Calendar: target}
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		attempt.Outcome = OutcomeError
		attempt.Err = err
		attempt.Duration = time.Since(start)
		return nil, attempt
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", "ipproof-backend")
	if payload != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		attempt.Outcome = OutcomeError
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			attempt.Outcome = OutcomeTimeout
		}
		attempt.Err = err
		attempt.Duration = time.Since(start)
		return nil, attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		attempt.Outcome = OutcomeError
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			attempt.Outcome = OutcomeTimeout
		}
		attempt.Err = err
		attempt.Duration = time.Since(start)
		return nil, attempt
	}

	switch {
	case len(data) > maxResponseSize:
		attempt.Outcome = OutcomeTooLarge
		attempt.Err = fmt.Errorf("calendar response exceeds %d bytes", maxResponseSize)
		data = nil
	case resp.StatusCode == http.StatusNotFound && op == "upgrade":
		attempt.Outcome = OutcomeNotReady
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		attempt.Outcome = OutcomeRejected
		attempt.Err = fmt.Errorf("calendar responded with status %d", resp.StatusCode)
	default:
		attempt.Outcome = OutcomeSuccess
	}
	attempt.Duration = time.Since(start)
	return data, attempt
}

func (c *Client) record(attempts *[]Attempt, op string, a Attempt) {
	*attempts = append(*attempts, a)
	calendarAttempts.WithLabelValues(calendarHost(a.Calendar), op, string(a.Outcome)).Inc()

	ev := c.logger.Debug()
	if a.Outcome != OutcomeSuccess && a.Outcome != OutcomeNotReady {
		ev = c.logger.Warn().Err(a.Err)
	}
	ev.Str("calendar", a.Calendar).
		Str("op", op).
		Str("outcome", string(a.Outcome)).
		Int("status_code", a.StatusCode).
		Dur("duration", a.Duration).
		Msg("calendar request")
}

func calendarHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Host
}

func lowestBitcoinAnchor(t *Timestamp) *BitcoinAnchor {
	var best *BitcoinAnchor
	for _, a := range t.BitcoinAttestations() {
		if best == nil || a.Attestation.Height < best.BlockHeight {
			best = &BitcoinAnchor{
				BlockHeight: a.Attestation.Height,
				MerkleRoot:  reversedHex(a.Node.Msg),
				TxID:        a.TxID,
			}
		}
	}
	return best
}

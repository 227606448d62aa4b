package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

// Client fetches call session tokens from the trust authority.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a token client against the given endpoint.
func NewClient(url string, logger zerolog.Logger) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  logger.With().Str("component", "token").Logger(),
	}
}

type acquireRequest struct {
	LocalParty  domain.Party `json:"localParty"`
	RemoteParty domain.Party `json:"remoteParty"`
}

type errorResponse struct {
	Type    string        `json:"type"`
	Message string        `json:"message"`
	Reason  domain.Reason `json:"reason,omitempty"`
}

// Acquire requests a fresh single-attempt token. Transport and server
// failures come back retryable; an explicit expiry/signature/skew rejection
// comes back retryable with its reason; anything else malformed is fatal.
func (c *Client) Acquire(ctx context.Context, localParty, remoteParty domain.Party) (*domain.CallSessionToken, error) {
	body, err := json.Marshal(acquireRequest{LocalParty: localParty, RemoteParty: remoteParty})
	if err != nil {
		return nil, domain.NewError(domain.KindFatal, domain.ReasonNone, fmt.Errorf("marshal token request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindFatal, domain.ReasonNone, fmt.Errorf("create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, domain.NewError(domain.KindRetryable, domain.ReasonNone, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewError(domain.KindRetryable, domain.ReasonNone, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyFailure(resp.StatusCode, respBody)
	}

	var tok domain.CallSessionToken
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, domain.NewError(domain.KindFatal, domain.ReasonNone, fmt.Errorf("unmarshal token: %w", err))
	}
	if tok.Token == "" || tok.Nonce == "" {
		return nil, domain.NewError(domain.KindFatal, domain.ReasonNone, fmt.Errorf("token response missing required fields"))
	}
	tok.LocalClockAtFetch = time.Now()

	c.log.Debug().
		Str("local", localParty.String()).
		Str("remote", remoteParty.String()).
		Bool("allowTurn", tok.AllowTurn).
		Dur("clockOffset", tok.ClockOffset()).
		Msg("token acquired")

	return &tok, nil
}

func (c *Client) classifyFailure(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Type == "error" {
		switch er.Reason {
		case domain.ReasonTokenExpired, domain.ReasonSignatureInvalid, domain.ReasonTimestampSkew:
			return domain.NewError(domain.KindRetryable, er.Reason, fmt.Errorf("token rejected: %s", er.Message))
		}
	}
	if status >= 500 {
		return domain.NewError(domain.KindRetryable, domain.ReasonNone, fmt.Errorf("token endpoint http %d", status))
	}
	return domain.NewError(domain.KindFatal, domain.ReasonNone, fmt.Errorf("token endpoint http %d: %s", status, string(body)))
}

package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/willexec/willexec/internal/domain/will"
)

// IdentifierPlaceholder is substituted into heartbeat URL templates.
const IdentifierPlaceholder = "{identifier}"

var ErrNoHeartbeatURL = errors.New("heartbeat URL not configured")

// Heartbeat asks an HTTP endpoint when an account was last active. The
// endpoint answers {"last_activity_at": RFC3339 | null}.
type Heartbeat struct {
	client   *http.Client
	template string
	logger   zerolog.Logger
}

// NewHeartbeat creates a heartbeat probe. An empty template means each
// account identifier is itself the URL.
func NewHeartbeat(template string, timeout time.Duration, logger zerolog.Logger) *Heartbeat {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Heartbeat{
		client:   &http.Client{Timeout: timeout},
		template: template,
		logger:   logger.With().Str("service", "heartbeat_probe").Logger(),
	}
}

type heartbeatResponse struct {
	LastActivityAt *time.Time `json:"last_activity_at"`
}

func (h *Heartbeat) Probe(ctx context.Context, account will.MonitoredAccount) (*time.Time, error) {
	target, err := h.url(account.Identifier)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("heartbeat endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out heartbeatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat response: %w", err)
	}
	h.logger.Debug().
		Str("identifier", account.Identifier).
		Bool("has_activity", out.LastActivityAt != nil).
		Msg("heartbeat probed")
	if out.LastActivityAt == nil {
		return nil, nil
	}
	ts := out.LastActivityAt.UTC()
	return &ts, nil
}

func (h *Heartbeat) url(identifier string) (string, error) {
	if h.template == "" {
		if identifier == "" {
			return "", ErrNoHeartbeatURL
		}
		return identifier, nil
	}
	if !strings.Contains(h.template, IdentifierPlaceholder) {
		return h.template, nil
	}
	return strings.ReplaceAll(h.template, IdentifierPlaceholder, url.PathEscape(identifier)), nil
}

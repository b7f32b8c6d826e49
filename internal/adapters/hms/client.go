// Package hms talks to a 100ms-style room service: rooms are created and ended
// over its REST API and clients join with locally signed app tokens.
package hms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

const DefaultBaseURL = "https://api.100ms.live/v2"

type Config struct {
	AccessKey  string        `mapstructure:"access_key"`
	Secret     string        `mapstructure:"secret"`
	TemplateID string        `mapstructure:"template_id"`
	BaseURL    string        `mapstructure:"base_url"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

var errNoActiveRoom = errors.New("no active room")

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// Client implements core.VoiceProvider. All remote calls share one circuit
// breaker; an open breaker fails fast with domain.ErrUpstreamUnavailable.
type Client struct {
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
	now  func() time.Time

	mu        sync.Mutex
	mgmtToken string
	mgmtExp   time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
	c.cb = newBreaker("hms")
	if c.Configured() {
		log.Info().Str("module", "hms").Str("base_url", cfg.BaseURL).Msg("voice provider configured")
	} else {
		log.Warn().Str("module", "hms").Msg("voice provider not configured, voice channels unavailable")
	}
	return c
}

func (c *Client) Configured() bool {
	return c.cfg.AccessKey != "" && c.cfg.Secret != ""
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
}

type roomResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateRoom is idempotent by name on the provider side: asking twice for the
// same name yields the same room.
func (c *Client) CreateRoom(ctx context.Context, name string) (string, error) {
	req := createRoomRequest{Name: name, Description: "Voice channel for " + name, TemplateID: c.cfg.TemplateID}
	body, err := c.call(ctx, "create_room", http.MethodPost, "/rooms", req)
	if err != nil {
		return "", err
	}
	var room roomResponse
	if err := json.Unmarshal(body, &room); err != nil {
		return "", fmt.Errorf("%w: hms create_room: decode: %v", domain.ErrUpstreamUnavailable, err)
	}
	if room.ID == "" {
		return "", fmt.Errorf("%w: hms create_room: empty room id", domain.ErrUpstreamUnavailable)
	}
	return room.ID, nil
}

func (c *Client) MintToken(_ context.Context, roomID string, user domain.UserID, role string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: voice provider not configured", domain.ErrUpstreamUnavailable)
	}
	tok, err := c.appToken(roomID, user, role)
	if err != nil {
		return "", fmt.Errorf("%w: hms mint token: %v", domain.ErrUpstreamUnavailable, err)
	}
	return tok, nil
}

type peersResponse struct {
	Peers map[string]struct {
		UserID string `json:"user_id"`
	} `json:"peers"`
}

// ActivePeers returns no peers when the room is not active.
func (c *Client) ActivePeers(ctx context.Context, roomID string) ([]domain.UserID, error) {
	body, err := c.call(ctx, "active_peers", http.MethodGet, "/active-rooms/"+url.PathEscape(roomID)+"/peers", nil)
	if errors.Is(err, errNoActiveRoom) {
		return []domain.UserID{}, nil
	}
	if err != nil {
		return nil, err
	}
	var resp peersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: hms active_peers: decode: %v", domain.ErrUpstreamUnavailable, err)
	}
	seen := make(map[string]struct{}, len(resp.Peers))
	out := make([]domain.UserID, 0, len(resp.Peers))
	for _, p := range resp.Peers {
		if p.UserID == "" {
			continue
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, domain.UserID(p.UserID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type endRoomRequest struct {
	Reason string `json:"reason"`
	Lock   bool   `json:"lock"`
}

// EndRoom disconnects every peer. Ending a room that is not active succeeds.
func (c *Client) EndRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, "end_room", http.MethodPost, "/active-rooms/"+url.PathEscape(roomID)+"/end-room",
		endRoomRequest{Reason: "Voice channel ended"})
	if errors.Is(err, errNoActiveRoom) {
		return nil
	}
	return err
}

// call runs one request through the breaker and maps every failure except a
// missing active room to domain.ErrUpstreamUnavailable.
func (c *Client) call(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: voice provider not configured", domain.ErrUpstreamUnavailable)
	}
	start := time.Now()
	defer metrics.RecordProviderCall(op, start)

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, payload)
	})
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, errNoActiveRoom):
		return nil, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Warn().Err(err).Str("module", "hms").Str("op", op).Msg("request rejected by circuit breaker")
	default:
		log.Error().Err(err).Str("module", "hms").Str("op", op).Msg("provider request failed")
	}
	return nil, fmt.Errorf("%w: hms %s: %v", domain.ErrUpstreamUnavailable, op, err)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	tok, err := c.managementToken()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/active-rooms/"):
		return nil, errNoActiveRoom
	case resp.StatusCode >= 300:
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

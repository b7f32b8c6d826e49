package hms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hms-test-secret"

func parseToken(t *testing.T, raw string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	return claims
}

func newClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{AccessKey: "ak", Secret: testSecret, TemplateID: "tpl", BaseURL: srv.URL + "/"}), srv
}

func TestCreateRoom(t *testing.T) {
	var auth string
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rooms", r.URL.Path)
		auth = r.Header.Get("Authorization")
		var req createRoomRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "room-c1", req.Name)
		assert.Equal(t, "tpl", req.TemplateID)
		_, _ = w.Write([]byte(`{"id":"r-123","name":"room-c1"}`))
	})

	id, err := c.CreateRoom(context.Background(), "room-c1")
	require.NoError(t, err)
	assert.Equal(t, "r-123", id)

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	claims := parseToken(t, strings.TrimPrefix(auth, "Bearer "))
	assert.Equal(t, "management", claims["type"])
	assert.Equal(t, "ak", claims["access_key"])
	assert.EqualValues(t, 2, claims["version"])
}

func TestManagementTokenIsReused(t *testing.T) {
	seen := map[string]bool{}
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen[r.Header.Get("Authorization")] = true
		_, _ = w.Write([]byte(`{"id":"r"}`))
	})
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.CreateRoom(context.Background(), "room")
		require.NoError(t, err)
	}
	assert.Len(t, seen, 1)

	now = now.Add(24 * time.Hour)
	_, err := c.CreateRoom(context.Background(), "room")
	require.NoError(t, err)
	assert.Len(t, seen, 2, "expired token is replaced")
}

func TestMintToken(t *testing.T) {
	c := New(Config{AccessKey: "ak", Secret: testSecret})
	tok, err := c.MintToken(context.Background(), "r-1", "alice", "speaker")
	require.NoError(t, err)

	claims := parseToken(t, tok)
	assert.Equal(t, "app", claims["type"])
	assert.Equal(t, "r-1", claims["room_id"])
	assert.Equal(t, "alice", claims["user_id"])
	assert.Equal(t, "speaker", claims["role"])
	assert.NotEmpty(t, claims["jti"])
}

func TestActivePeers(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/active-rooms/r-1/peers":
			_, _ = w.Write([]byte(`{"peers":{"p1":{"user_id":"bob"},"p2":{"user_id":"alice"},"p3":{"user_id":"bob"},"p4":{}}}`))
		default:
			http.NotFound(w, r)
		}
	})

	peers, err := c.ActivePeers(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, peers)

	peers, err = c.ActivePeers(context.Background(), "idle")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestEndRoom(t *testing.T) {
	var ended atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/active-rooms/r-1/end-room" {
			var req endRoomRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Lock)
			ended.Add(1)
			_, _ = w.Write([]byte(`{"message":"ok"}`))
			return
		}
		http.NotFound(w, r)
	})

	require.NoError(t, c.EndRoom(context.Background(), "r-1"))
	require.NoError(t, c.EndRoom(context.Background(), "gone"), "ending an idle room is fine")
	assert.EqualValues(t, 1, ended.Load())
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{AccessKey: "ak"})
	assert.False(t, c.Configured())

	_, err := c.CreateRoom(context.Background(), "room")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	_, err = c.MintToken(context.Background(), "r", "alice", "speaker")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFailuresOpenTheBreaker(t *testing.T) {
	var hits atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.CreateRoom(context.Background(), "room")
		require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	}
	require.EqualValues(t, 5, hits.Load())

	_, err := c.CreateRoom(context.Background(), "room")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.EqualValues(t, 5, hits.Load(), "open breaker fails fast")
}

func TestIdleRoomsDoNotTripTheBreaker(t *testing.T) {
	c, _ := newClient(t, http.NotFound)
	for i := 0; i < 10; i++ {
		peers, err := c.ActivePeers(context.Background(), "idle")
		require.NoError(t, err)
		assert.Empty(t, peers)
	}
	assert.Zero(t, c.cb.Counts().TotalFailures)
}

func TestMalformedResponse(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"no id"}`))
	})
	_, err := c.CreateRoom(context.Background(), "room")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

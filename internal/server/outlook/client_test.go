package outlook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mailvault/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// newTestClient builds a client pointed at srv with an instant sleep seam that
// records every backoff wait.
func newTestClient(srv *httptest.Server, cfg Config) (*Client, *[]time.Duration) {
	cfg.TokenURL = srv.URL + "/token"
	cfg.BaseURL = srv.URL
	c := NewClient(cfg, testLogger())

	waits := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return c, waits
}

type staticSource struct {
	token      string
	refreshed  atomic.Int32
	refreshErr error
}

func (s *staticSource) Token(ctx context.Context) (string, error) { return s.token, nil }

func (s *staticSource) Refresh(ctx context.Context) (string, error) {
	s.refreshed.Add(1)
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return s.token + "-refreshed", nil
}

func TestExchangeToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, defaultScope, r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "at-xyz", "expires_in": 3599}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	token, err := c.ExchangeToken(context.Background(), "rt-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, "at-xyz", token.AccessToken)
	assert.Equal(t, 3599, token.ExpiresIn)
}

func TestExchangeToken_InvalidGrantNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant", "error_description": "AADSTS70000: token expired"}`))
	}))
	defer srv.Close()

	c, waits := newTestClient(srv, Config{MaxAttempts: 5})
	_, err := c.ExchangeToken(context.Background(), "rt-dead", "client-1")

	require.Error(t, err)
	assert.True(t, IsInvalidGrant(err))
	assert.Equal(t, int32(1), calls.Load(), "terminal rejection must not be retried")
	assert.Empty(t, *waits)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_grant", apiErr.Code)
	assert.Contains(t, apiErr.Message, "AADSTS70000")
}

func TestExchangeToken_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"access_token": "at", "expires_in": 3600}`))
	}))
	defer srv.Close()

	c, waits := newTestClient(srv, Config{RetryBaseDelay: 100 * time.Millisecond})
	token, err := c.ExchangeToken(context.Background(), "rt", "client")

	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, int32(3), calls.Load())
	// Backoff doubles: 100ms then 200ms.
	require.Len(t, *waits, 2)
	assert.Equal(t, 100*time.Millisecond, (*waits)[0])
	assert.Equal(t, 200*time.Millisecond, (*waits)[1])
}

func TestExchangeToken_RetryAfterHintWins(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"access_token": "at", "expires_in": 3600}`))
	}))
	defer srv.Close()

	c, waits := newTestClient(srv, Config{RetryBaseDelay: 100 * time.Millisecond})
	_, err := c.ExchangeToken(context.Background(), "rt", "client")

	require.NoError(t, err)
	require.Len(t, *waits, 1)
	assert.Equal(t, 2*time.Second, (*waits)[0], "server hint overrides computed backoff")
}

func TestExchangeToken_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{MaxAttempts: 3})
	_, err := c.ExchangeToken(context.Background(), "rt", "client")

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "retries exhausted")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindTransient, apiErr.Kind)
}

func TestExchangeToken_BackoffCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, waits := newTestClient(srv, Config{
		MaxAttempts:    4,
		RetryBaseDelay: 1 * time.Second,
		RetryMaxDelay:  1500 * time.Millisecond,
	})
	_, err := c.ExchangeToken(context.Background(), "rt", "client")
	require.Error(t, err)

	require.Len(t, *waits, 3)
	assert.Equal(t, 1*time.Second, (*waits)[0])
	assert.Equal(t, 1500*time.Millisecond, (*waits)[1])
	assert.Equal(t, 1500*time.Millisecond, (*waits)[2])
}

func TestExchangeToken_PerAttemptTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{Timeout: 20 * time.Millisecond, MaxAttempts: 2})
	_, err := c.ExchangeToken(context.Background(), "rt", "client")

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindTransient, apiErr.Kind)
}

func TestListFolders_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		assert.Equal(t, "id,displayName,unreadItemCount,totalItemCount", r.URL.Query().Get("$select"))

		w.Write([]byte(`{"value": [
			{"id": "f1", "displayName": "Inbox", "unreadItemCount": 3, "totalItemCount": 10},
			{"id": "f2", "displayName": "Junk", "unreadItemCount": 0, "totalItemCount": 2}
		]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	folders, err := c.ListFolders(context.Background(), &staticSource{token: "at-1"})

	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "Inbox", folders[0].Name)
	assert.Equal(t, 3, folders[0].UnreadCount)
	assert.Equal(t, 10, folders[0].TotalCount)
}

func TestGraph_AuthRejectedRefreshedOnce(t *testing.T) {
	src := &staticSource{token: "at-stale"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-stale-refreshed" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"code": "InvalidAuthenticationToken", "message": "expired"}}`))
			return
		}
		w.Write([]byte(`{"value": [{"id": "f1", "displayName": "Inbox"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	folders, err := c.ListFolders(context.Background(), src)

	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, int32(1), src.refreshed.Load())
}

func TestGraph_AuthRejectedTwiceEscalatesToInvalidGrant(t *testing.T) {
	src := &staticSource{token: "at-dead"}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"code": "InvalidAuthenticationToken", "message": "nope"}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	_, err := c.ListFolders(context.Background(), src)

	require.Error(t, err)
	assert.True(t, IsInvalidGrant(err))
	assert.Equal(t, int32(1), src.refreshed.Load())
	assert.Equal(t, int32(2), calls.Load(), "one attempt per token, no retry loop on 401")
}

func TestListMessages_MapsPageAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders/inbox/messages", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "25", q.Get("$top"))
		assert.Equal(t, "50", q.Get("$skip"))
		assert.Equal(t, "true", q.Get("$count"))
		assert.Equal(t, "receivedDateTime desc", q.Get("$orderby"))
		assert.Equal(t, `"invoice"`, q.Get("$search"))

		w.Write([]byte(`{"@odata.count": 120, "value": [{
			"id": "m1",
			"subject": "March invoice",
			"from": {"emailAddress": {"name": "Billing", "address": "billing@example.com"}},
			"receivedDateTime": "2025-03-01T10:00:00Z",
			"isRead": false,
			"bodyPreview": "Please find attached"
		}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	page, err := c.ListMessages(context.Background(), &staticSource{token: "at"}, "inbox",
		ListOptions{Top: 25, Skip: 50, Search: "invoice"})

	require.NoError(t, err)
	assert.Equal(t, 120, page.Total)
	assert.Equal(t, 25, page.Limit)
	assert.Equal(t, 50, page.Skip)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "March invoice", page.Items[0].Subject)
	assert.Equal(t, "billing@example.com", page.Items[0].FromAddress)
	assert.Equal(t, "Billing", page.Items[0].FromName)
	assert.False(t, page.Items[0].IsRead)
}

func TestGetMessage_IncludesBodyAndRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages/m1", r.URL.Path)
		w.Write([]byte(`{
			"id": "m1",
			"subject": "hello",
			"from": {"emailAddress": {"address": "a@example.com"}},
			"toRecipients": [{"emailAddress": {"address": "b@example.com"}}, {"emailAddress": {"address": "c@example.com"}}],
			"ccRecipients": [{"emailAddress": {"address": "d@example.com"}}],
			"receivedDateTime": "2025-03-01T10:00:00Z",
			"isRead": true,
			"body": {"contentType": "html", "content": "<p>hi</p>"}
		}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	msg, err := c.GetMessage(context.Background(), &staticSource{token: "at"}, "m1")

	require.NoError(t, err)
	assert.Equal(t, []string{"b@example.com", "c@example.com"}, msg.To)
	assert.Equal(t, []string{"d@example.com"}, msg.Cc)
	assert.Equal(t, "html", msg.BodyType)
	assert.Equal(t, "<p>hi</p>", msg.BodyContent)
}

func TestGetMessage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"code": "ErrorItemNotFound", "message": "gone"}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	_, err := c.GetMessage(context.Background(), &staticSource{token: "at"}, "missing")

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteMessage_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/me/messages/m1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	err := c.DeleteMessage(context.Background(), &staticSource{token: "at"}, "m1")
	assert.NoError(t, err)
}

func TestUnreadCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders/inbox", r.URL.Path)
		w.Write([]byte(`{"unreadItemCount": 7}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv, Config{})
	n, err := c.UnreadCount(context.Background(), &staticSource{token: "at"}, "inbox")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestAPIError_Temporary(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransient, true},
		{KindRateLimited, true},
		{KindInvalidGrant, false},
		{KindAuthRejected, false},
		{KindNotFound, false},
		{KindPermanent, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			e := &APIError{Kind: tt.kind}
			assert.Equal(t, tt.want, e.Temporary())
		})
	}
}

package trigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agent-economy/internal/errs"
)

func writeErr(w http.ResponseWriter, status int, code, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "reason": reason, "message": "nope"},
	})
}

func TestClientSendsBearerOnControlCalls(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/status":
			assert.Empty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"latest_epoch": 4, "next_epoch": 5, "initialized": true})
		case "/api/v1/predictions/settle":
			gotAuth = r.Header.Get("Authorization")
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			raw, _ := json.Marshal(body)
			gotBody = string(raw)
			json.NewEncoder(w).Encode(map[string]any{"epoch": 3, "settled": 2, "wins": 1, "paid_out": 180})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "k")
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.NextEpoch)
	assert.True(t, st.Initialized)

	epoch := int64(3)
	out, err := c.Settle(context.Background(), &epoch)
	require.NoError(t, err)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.JSONEq(t, `{"epoch":3}`, gotBody)
	assert.Equal(t, int64(180), out.PaidOut)
	assert.Equal(t, 1, out.Wins)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusConflict, "CONFLICT", "epoch_in_progress")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Epoch(context.Background(), EpochOptions{Event: "boom"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeConflict))
	assert.True(t, errs.HasReason(err, errs.ReasonEpochInProgress))
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Social(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeInternal))
	assert.Contains(t, err.Error(), "502")
}

func testWatcher(url string) *Watcher {
	w := NewWatcher(NewClient(url, "k"), time.Hour)
	w.Backoff = time.Millisecond
	w.MaxBackoff = 2 * time.Millisecond
	w.ReadyTimeout = time.Second
	return w
}

func TestOnceSkipsWhileEpochRuns(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeErr(w, http.StatusConflict, "CONFLICT", "epoch_in_progress")
	}))
	defer srv.Close()

	w := testWatcher(srv.URL)
	w.Retries = 3
	summary, err := w.Once(context.Background())
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOnceRetriesUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeErr(w, http.StatusBadGateway, "UPSTREAM_GENERATION", "")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"epoch":       map[string]any{"epoch": 8, "event": "boom", "transactionCount": 14},
			"settlements": 3,
		})
	}))
	defer srv.Close()

	summary, err := testWatcher(srv.URL).Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), summary.Epoch.Epoch)
	assert.Equal(t, 14, summary.Epoch.TransactionCount)
	assert.Equal(t, 3, summary.Settlements)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOnceStopsOnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeErr(w, http.StatusUnauthorized, "UNAUTHORIZED", "")
	}))
	defer srv.Close()

	_, err := testWatcher(srv.URL).Once(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWaitForAPIBacksOff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"latest_epoch": 0})
	}))
	defer srv.Close()

	require.NoError(t, testWatcher(srv.URL).WaitForAPI(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitForAPIGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := testWatcher(srv.URL)
	w.ReadyTimeout = 5 * time.Millisecond
	assert.Error(t, w.WaitForAPI(context.Background()))
}

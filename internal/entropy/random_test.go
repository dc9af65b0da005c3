package entropy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilClientFallsBackToCrypto(t *testing.T) {
	var c *Client
	assert.Nil(t, NewClient(""))
	assert.False(t, c.Enabled())
	assert.GreaterOrEqual(t, c.Seed(), int64(0))
}

func TestClientPacksPairsFromPool(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req struct {
			Method string `json:"method"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "generateIntegers", req.Method)

		data := make([]int64, batchSize*2)
		for i := range data {
			data[i] = int64(i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"random": map[string]any{"data": data}},
		})
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL

	assert.Equal(t, int64(0)<<30|1, c.Seed())
	assert.Equal(t, int64(2)<<30|3, c.Seed())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientFallsBackOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "quota exceeded"}})
	}))
	defer srv.Close()

	c := NewClient("key")
	c.endpoint = srv.URL
	assert.GreaterOrEqual(t, c.Seed(), int64(0))
}

func TestFixed(t *testing.T) {
	assert.Equal(t, int64(42), Fixed(42).Seed())
}

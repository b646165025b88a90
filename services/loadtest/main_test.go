package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrders simula o serviço: aceita até `stock` unidades e rejeita o resto
func fakeOrders(t *testing.T, stock int) *httptest.Server {
	var mu sync.Mutex
	remaining := stock

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))

		var body struct {
			Items []struct {
				ID  string `json:"id"`
				Qty int    `json:"qty"`
			} `json:"items"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) || len(body.Items) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mu.Lock()
		defer mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if remaining < body.Items[0].Qty {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Insufficient stock","kind":"insufficient_stock"}`))
			return
		}
		remaining -= body.Items[0].Qty
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":{"id":"x"}}`))
	}))
}

func TestRun_CountsOutcomes(t *testing.T) {
	srv := fakeOrders(t, 4)
	defer srv.Close()

	s := settings{
		BaseURL:     srv.URL,
		ItemID:      "ladoo",
		Stock:       4,
		Requests:    20,
		Concurrency: 5,
		Qty:         1,
		Timeout:     5 * time.Second,
	}

	res := run(s, newClient(s, "token"))

	assert.Equal(t, 4, res.Placed)
	assert.Equal(t, 16, res.Insufficient)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Oversold)
	assert.Equal(t, 4, res.StatusCounts["201"])
	assert.Equal(t, 16, res.StatusCounts["400"])
}

func TestRun_DetectsOversell(t *testing.T) {
	// O servidor acredita ter 10 unidades, mas o estoque real era 3
	srv := fakeOrders(t, 10)
	defer srv.Close()

	s := settings{BaseURL: srv.URL, ItemID: "ladoo", Stock: 3, Requests: 6, Concurrency: 2, Qty: 1, Timeout: 5 * time.Second}

	res := run(s, newClient(s, "token"))

	assert.Equal(t, 6, res.UnitsSold)
	assert.True(t, res.Oversold)
}

func TestTally_UnexpectedStatusIsFailure(t *testing.T) {
	tl := newTally()

	tl.record(500, errorBody{Error: "Order creation failed", Kind: "transaction_failed"}, time.Millisecond, nil)
	tl.record(400, errorBody{Kind: "no_items"}, time.Millisecond, nil)

	res := tl.summarize(settings{Qty: 1}, time.Second)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, "status 500: Order creation failed", res.FirstError)
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}

	assert.Equal(t, 3.0, percentile(values, 0.50))
	assert.Equal(t, 4.0, percentile(values, 0.99))
	assert.Zero(t, percentile(nil, 0.5))
}

func TestSignToken(t *testing.T) {
	raw, err := signToken("secret", "user-1")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil })

	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["id"])
	assert.Equal(t, "user", claims["role"])
}

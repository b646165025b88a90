package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v4"
)

// settings do loadtest: checkouts concorrentes contra um único doce, conferindo que nada foi vendido além do estoque
type settings struct {
	BaseURL     string
	ItemID      string
	Stock       int
	Requests    int
	Concurrency int
	Qty         int
	JWTSecret   string
	UserID      string
	Timeout     time.Duration
}

type result struct {
	Timestamp     string         `json:"timestamp"`
	ItemID        string         `json:"item_id"`
	Requests      int            `json:"requests"`
	Concurrency   int            `json:"concurrency"`
	Placed        int            `json:"placed"`
	Insufficient  int            `json:"insufficient_stock"`
	Failed        int            `json:"failed"`
	UnitsSold     int            `json:"units_sold"`
	ExpectedStock int            `json:"expected_stock"`
	Oversold      bool           `json:"oversold"`
	DurationMs    float64        `json:"duration_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	StatusCounts  map[string]int `json:"status_counts"`
	FirstError    string         `json:"first_error,omitempty"`
}

type tally struct {
	mu           sync.Mutex
	placed       int
	insufficient int
	failed       int
	latenciesMs  []float64
	statusCounts map[string]int
	firstError   string
}

func newTally() *tally {
	return &tally{statusCounts: make(map[string]int)}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (t *tally) record(status int, body errorBody, latency time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latenciesMs = append(t.latenciesMs, float64(latency.Microseconds())/1000)
	if err != nil {
		t.failed++
		t.statusCounts["transport"]++
		if t.firstError == "" {
			t.firstError = err.Error()
		}
		return
	}

	t.statusCounts[strconv.Itoa(status)]++
	switch {
	case status == 201:
		t.placed++
	case status == 400 && body.Kind == "insufficient_stock":
		t.insufficient++
	default:
		t.failed++
		if t.firstError == "" {
			t.firstError = fmt.Sprintf("status %d: %s", status, body.Error)
		}
	}
}

func (t *tally) summarize(s settings, elapsed time.Duration) result {
	t.mu.Lock()
	defer t.mu.Unlock()

	units := t.placed * s.Qty
	return result{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		ItemID:        s.ItemID,
		Requests:      s.Requests,
		Concurrency:   s.Concurrency,
		Placed:        t.placed,
		Insufficient:  t.insufficient,
		Failed:        t.failed,
		UnitsSold:     units,
		ExpectedStock: s.Stock,
		Oversold:      units > s.Stock,
		DurationMs:    float64(elapsed.Microseconds()) / 1000,
		P50LatencyMs:  percentile(t.latenciesMs, 0.50),
		P99LatencyMs:  percentile(t.latenciesMs, 0.99),
		StatusCounts:  t.statusCounts,
		FirstError:    t.firstError,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func signToken(secret, userID string) (string, error) {
	claims := jwt.MapClaims{
		"id":   userID,
		"role": "user",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func newClient(s settings, token string) *resty.Client {
	return resty.New().
		SetBaseURL(s.BaseURL).
		SetTimeout(s.Timeout).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")
}

// run executa s.Requests checkouts com s.Concurrency workers
func run(s settings, client *resty.Client) result {
	tasks := make(chan struct{})
	t := newTally()
	var wg sync.WaitGroup

	payload := map[string]any{
		"items": []map[string]any{{"id": s.ItemID, "qty": s.Qty}},
	}

	start := time.Now()
	for i := 0; i < s.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasks {
				var failure errorBody
				started := time.Now()
				resp, err := client.R().
					SetBody(payload).
					SetError(&failure).
					Post("/api/orders")
				if err != nil {
					t.record(0, failure, time.Since(started), err)
					continue
				}
				t.record(resp.StatusCode(), failure, time.Since(started), nil)
			}
		}()
	}

	for i := 0; i < s.Requests; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()

	return t.summarize(s, time.Since(start))
}

func main() {
	s := settings{}
	flag.StringVar(&s.BaseURL, "base-url", getEnv("BASE_URL", "http://localhost:8080"), "orders service base URL")
	flag.StringVar(&s.ItemID, "item", getEnv("ITEM_ID", ""), "sweet id to buy")
	flag.IntVar(&s.Stock, "stock", envInt("STOCK", 0), "stock of the sweet before the run")
	flag.IntVar(&s.Requests, "requests", envInt("REQUESTS", 100), "number of checkouts")
	flag.IntVar(&s.Concurrency, "concurrency", envInt("CONCURRENCY", 10), "concurrent workers")
	flag.IntVar(&s.Qty, "qty", 1, "units per checkout")
	flag.StringVar(&s.JWTSecret, "jwt-secret", getEnv("JWT_SECRET", "secret"), "HS256 secret shared with the orders service")
	flag.StringVar(&s.UserID, "user", getEnv("USER_ID", ""), "buyer user id (must exist)")
	flag.DurationVar(&s.Timeout, "timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if s.ItemID == "" || s.UserID == "" {
		fmt.Fprintln(os.Stderr, "item and user are required")
		os.Exit(1)
	}
	if s.Requests <= 0 || s.Concurrency <= 0 || s.Qty <= 0 {
		fmt.Fprintln(os.Stderr, "requests, concurrency and qty must be > 0")
		os.Exit(1)
	}

	token, err := signToken(s.JWTSecret, s.UserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}

	res := run(s, newClient(s, token))

	encoded, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))

	if *output != "" {
		if err := os.WriteFile(*output, encoded, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}

	if res.Oversold {
		fmt.Fprintf(os.Stderr, "❌ oversold: %d units sold with stock %d\n", res.UnitsSold, res.ExpectedStock)
		os.Exit(2)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

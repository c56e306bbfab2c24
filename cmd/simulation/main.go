package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/internal/admission"
	"github.com/quantdesk/order-gateway/internal/auth"
	"github.com/quantdesk/order-gateway/internal/broker"
	"github.com/quantdesk/order-gateway/internal/config"
	"github.com/quantdesk/order-gateway/internal/database"
	"github.com/quantdesk/order-gateway/internal/dedup"
	"github.com/quantdesk/order-gateway/internal/ratelimit"
	"github.com/quantdesk/order-gateway/internal/rbac"
	"github.com/quantdesk/order-gateway/pkg/middleware"
)

const (
	minFlowOrders     = 12
	maxFlowOrders     = 24
	numWorkers        = 4
	duplicateStormN   = 8
	rateStormAttempts = 60
	serverAddress     = "http://localhost:8080"
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []string{"BUY", "SELL"}
)

// Simulation accounts. The flow and burst traders carry raised overrides so
// the phase under test is the only control that trips.
var simUsers = []struct {
	apiKey    string
	apiSecret string
	cfg       rbac.UserConfig
}{
	{"sim-flow-key", "sim-flow-secret", rbac.UserConfig{
		UserID: "sim-flow-trader", Role: rbac.RoleTrader, Active: true,
		MaxOrderValue: 500000, MaxOrdersPerMinute: 1000,
	}},
	{"sim-dup-key", "sim-dup-secret", rbac.UserConfig{
		UserID: "sim-dup-trader", Role: rbac.RoleTrader, Active: true,
	}},
	{"sim-burst-key", "sim-burst-secret", rbac.UserConfig{
		UserID: "sim-burst-trader", Role: rbac.RoleTrader, Active: true,
		MaxOrderValue: 500000, MaxOrdersPerMinute: 1000,
	}},
	{"sim-risk-key", "sim-risk-secret", rbac.UserConfig{
		UserID: "sim-risk-trader", Role: rbac.RoleTrader, Active: true,
	}},
	{"sim-admin-key", "sim-admin-secret", rbac.UserConfig{
		UserID: "sim-admin", Role: rbac.RoleAdmin, Active: true,
	}},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// setenvDefault sets an environment variable only when the caller has not.
func setenvDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// orderRequest is the order submission payload.
type orderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	OrderType string  `json:"order_type"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
}

func randomOrder() orderRequest {
	return orderRequest{
		Symbol:    symbols[rand.Intn(len(symbols))],
		Side:      sides[rand.Intn(len(sides))],
		OrderType: "MARKET",
		Quantity:  int64(rand.Intn(100) + 1),
		Price:     float64(rand.Intn(1000) + 100),
	}
}

// submitResult is one admission verdict as seen over the wire. An empty
// code means the order was approved.
type submitResult struct {
	orderID    string
	code       string
	message    string
	remaining  string
	retryAfter string
}

func (r *submitResult) approved() bool {
	return r.code == ""
}

// outcomeTally accumulates admission verdicts across concurrent submitters.
type outcomeTally struct {
	mu       sync.Mutex
	approved int
	denials  map[string]int
	symbols  map[string]int
	sides    map[string]int
}

func newOutcomeTally() *outcomeTally {
	return &outcomeTally{
		denials: make(map[string]int),
		symbols: make(map[string]int),
		sides:   make(map[string]int),
	}
}

func (t *outcomeTally) record(order orderRequest, res *submitResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if res.approved() {
		t.approved++
		t.symbols[order.Symbol]++
		t.sides[order.Side]++
		return
	}
	t.denials[res.code]++
}

func (t *outcomeTally) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.approved
	for _, c := range t.denials {
		n += c
	}
	return n
}

// simulationClient handles HTTP communication with the gateway for one
// authenticated account
type simulationClient struct {
	baseURL   string
	userID    string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates a client, authenticates it, and prepares
// performance tracking
func newSimulationClient(userID, apiKey, apiSecret string) (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		userID:  userID,
		client:  client,
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"submit": {name: "Submit Order"},
			"get":    {name: "Get Order"},
			"list":   {name: "List Orders"},
			"pnl":    {name: "Apply PnL"},
			"stats":  {name: "User Stats"},
		},
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", userID, err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		sc.stats["auth"].failures++
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats["auth"].failures++
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// submitOrder runs one order through the gateway and returns the verdict.
// A denial is a normal outcome here, not an error; errors mean the request
// itself could not be completed.
func (sc *simulationClient) submitOrder(order orderRequest) (*submitResult, error) {
	start := time.Now()
	defer func() {
		sc.stats["submit"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["submit"].failures++
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Submit order response")

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			OrderID  string `json:"order_id"`
			Approved bool   `json:"approved"`
		} `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	out := &submitResult{
		remaining:  resp.Header.Get("X-RateLimit-Remaining"),
		retryAfter: resp.Header.Get("Retry-After"),
	}
	if result.Success {
		if result.Data.OrderID == "" {
			return nil, fmt.Errorf("no order ID in response: %s", string(respBody))
		}
		out.orderID = result.Data.OrderID
		return out, nil
	}
	if result.Error == nil {
		return nil, fmt.Errorf("denied without error detail: %s", string(respBody))
	}
	out.code = result.Error.Code
	out.message = result.Error.Message
	return out, nil
}

// getOrder retrieves the current status of a submission
func (sc *simulationClient) getOrder(orderID string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["get"].failures++
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats["get"].failures++
		return "", fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Status        string `json:"status"`
			BrokerOrderID string `json:"broker_order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data.Status, nil
}

// listOrders retrieves the caller's most recent submissions
func (sc *simulationClient) listOrders(limit int) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["list"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders?limit=%d", sc.baseURL, limit),
		nil,
	)
	if err != nil {
		return 0, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["list"].failures++
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats["list"].failures++
		return 0, fmt.Errorf("list orders failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return len(result.Data), nil
}

// applyPnL reports a realized profit or loss delta for a user. Requires an
// admin session.
func (sc *simulationClient) applyPnL(userID string, delta float64) error {
	start := time.Now()
	defer func() {
		sc.stats["pnl"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(map[string]float64{"delta": delta})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/internal/users/%s/pnl", sc.baseURL, userID),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["pnl"].failures++
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats["pnl"].failures++
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("apply pnl failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// getUserStats retrieves a user's current-day trading stats. Requires an
// admin session.
func (sc *simulationClient) getUserStats(userID string) (submitted, rejected int64, err error) {
	start := time.Now()
	defer func() {
		sc.stats["stats"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/internal/users/%s/stats", sc.baseURL, userID),
		nil,
	)
	if err != nil {
		return 0, 0, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["stats"].failures++
		return 0, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats["stats"].failures++
		return 0, 0, fmt.Errorf("get stats failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			OrdersSubmitted int64 `json:"orders_submitted"`
			OrdersRejected  int64 `json:"orders_rejected"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data.OrdersSubmitted, result.Data.OrdersRejected, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats(clients []*simulationClient) {
	// Merge per-client stats by route
	merged := make(map[string]*routeStats)
	for _, sc := range clients {
		for key, stats := range sc.stats {
			m, ok := merged[key]
			if !ok {
				m = &routeStats{name: stats.name}
				merged[key] = m
			}
			m.durations = append(m.durations, stats.durations...)
			m.totalCalls += stats.totalCalls
			m.failures += stats.failures
		}
	}

	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range merged {
		if stats.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the gateway simulation: an in-process server plus client storms
// that exercise each admission control in turn
func main() {
	// Defaults sized so each storm phase trips exactly the control it
	// targets. Real environment variables win.
	setenvDefault("RATE_LIMIT_ORDERS", "25")
	setenvDefault("BROKER_MIN_LATENCY", "1ms")
	setenvDefault("BROKER_MAX_LATENCY", "5ms")
	setenvDefault("BROKER_FAILURE_RATE", "0.05")
	setenvDefault("DATABASE_DSN", "simulation.db")

	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	clients := make(map[string]*simulationClient, len(simUsers))
	for _, u := range simUsers {
		client, err := newSimulationClient(u.cfg.UserID, u.apiKey, u.apiSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize simulation client")
		}
		clients[u.cfg.UserID] = client
	}

	tally := newOutcomeTally()
	startTime := time.Now()

	orderIDs := runFlowPhase(clients["sim-flow-trader"], tally)
	runDuplicateStorm(clients["sim-dup-trader"], tally)
	runRateStorm(clients["sim-burst-trader"], tally)
	runRiskStorm(clients["sim-risk-trader"], clients["sim-admin"], tally)
	runReadBack(clients["sim-flow-trader"], orderIDs)

	duration := time.Since(startTime)

	// Print summary
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚦 ADMISSION GATEWAY SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Admission Outcomes
--------------------
Total Submissions: %d
Approved:          %d
Duration:          %v

`, tally.total(), tally.approved, duration.Round(time.Millisecond))

	fmt.Println("⛔ Denials by Code")
	fmt.Println("-----------------")
	maxDenials := 0
	for _, count := range tally.denials {
		if count > maxDenials {
			maxDenials = count
		}
	}
	for code, count := range tally.denials {
		barLength := 0
		if maxDenials > 0 {
			barLength = int(float64(count) / float64(maxDenials) * 20)
		}
		fmt.Printf("%-24s: %s (%d)\n", code, strings.Repeat("█", barLength), count)
	}

	fmt.Println("\n📈 Symbol Distribution (approved)")
	fmt.Println("--------------------------------")
	maxSymbolCount := 0
	for _, count := range tally.symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}
	for symbol, count := range tally.symbols {
		barLength := 0
		if maxSymbolCount > 0 {
			barLength = int(float64(count) / float64(maxSymbolCount) * 20)
		}
		fmt.Printf("%-6s: %s (%d)\n", symbol, strings.Repeat("█", barLength), count)
	}

	// Per-user ledger as the gateway recorded it
	fmt.Println("\n🧾 Recorded User Stats")
	fmt.Println("---------------------")
	admin := clients["sim-admin"]
	for _, u := range simUsers {
		submitted, rejected, err := admin.getUserStats(u.cfg.UserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", u.cfg.UserID).Msg("Failed to fetch user stats")
			continue
		}
		fmt.Printf("%-18s submitted=%-4d rejected=%-4d\n", u.cfg.UserID, submitted, rejected)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	approvalRate := 0.0
	if tally.total() > 0 {
		approvalRate = float64(tally.approved) / float64(tally.total()) * 100
	}
	log.Info().
		Float64("approval_rate", approvalRate).
		Int("total_submissions", tally.total()).
		Int("approved", tally.approved).
		Dur("duration", duration).
		Msg("Simulation completed")

	all := make([]*simulationClient, 0, len(clients))
	for _, sc := range clients {
		all = append(all, sc)
	}
	printPerformanceStats(all)
}

// runFlowPhase submits a random batch of distinct orders from concurrent
// workers and returns the approved order IDs
func runFlowPhase(client *simulationClient, tally *outcomeTally) []string {
	targetOrders := rand.Intn(maxFlowOrders-minFlowOrders) + minFlowOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting flow phase")

	ordersChan := make(chan string, targetOrders)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			submitOrdersHTTP(workerID, targetOrders/numWorkers, client, tally, ordersChan)
		}(i)
	}

	wg.Wait()
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}

	log.Info().Int("orders_approved", len(orderIDs)).Msg("Flow phase complete")
	return orderIDs
}

// submitOrdersHTTP generates and submits random orders to the gateway
// Runs as a worker goroutine, sending approved order IDs to ordersChan
func submitOrdersHTTP(workerID, numOrders int, client *simulationClient, tally *outcomeTally, ordersChan chan<- string) {
	for i := 0; i < numOrders; i++ {
		order := randomOrder()

		result, err := client.submitOrder(order)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("symbol", order.Symbol).
				Msg("Failed to submit order")
			continue
		}
		tally.record(order, result)

		if !result.approved() {
			log.Warn().
				Int("worker_id", workerID).
				Str("code", result.code).
				Str("message", result.message).
				Msg("Order denied")
			continue
		}

		ordersChan <- result.orderID
		log.Info().
			Int("worker_id", workerID).
			Str("order_id", result.orderID).
			Str("symbol", order.Symbol).
			Str("side", order.Side).
			Int64("quantity", order.Quantity).
			Float64("price", order.Price).
			Msg("Order approved")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}
}

// runDuplicateStorm fires identical orders concurrently. The gateway should
// admit at most one of them and refuse the rest as duplicates.
func runDuplicateStorm(client *simulationClient, tally *outcomeTally) {
	order := orderRequest{
		Symbol:    "AAPL",
		Side:      "BUY",
		OrderType: "LIMIT",
		Quantity:  10,
		Price:     150.50,
	}
	log.Info().Int("submitters", duplicateStormN).Msg("Starting duplicate storm")

	var wg sync.WaitGroup
	results := make(chan *submitResult, duplicateStormN)
	for i := 0; i < duplicateStormN; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := client.submitOrder(order)
			if err != nil {
				log.Error().Err(err).Msg("Duplicate storm submission failed")
				return
			}
			tally.record(order, result)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	approved, duplicates, other := 0, 0, 0
	for result := range results {
		switch {
		case result.approved():
			approved++
		case result.code == "DUPLICATE_ORDER":
			duplicates++
		default:
			other++
		}
	}

	log.Info().
		Int("approved", approved).
		Int("duplicates", duplicates).
		Int("other", other).
		Msg("Duplicate storm complete")
}

// runRateStorm hammers the submission endpoint from one account until the
// sliding window denies and then blocks it
func runRateStorm(client *simulationClient, tally *outcomeTally) {
	log.Info().Int("attempts", rateStormAttempts).Msg("Starting rate storm")

	lastCode := ""
	for i := 0; i < rateStormAttempts; i++ {
		order := randomOrder()
		result, err := client.submitOrder(order)
		if err != nil {
			log.Error().Err(err).Msg("Rate storm submission failed")
			continue
		}
		tally.record(order, result)

		if result.code != lastCode {
			log.Info().
				Int("attempt", i+1).
				Str("code", result.code).
				Str("remaining", result.remaining).
				Str("retry_after", result.retryAfter).
				Msg("Rate storm verdict changed")
			lastCode = result.code
		}
		if result.code == "BLOCKED" {
			log.Info().
				Int("attempt", i+1).
				Str("retry_after", result.retryAfter).
				Msg("Client blocked, ending rate storm")
			return
		}
	}
	log.Warn().Msg("Rate storm finished without reaching a block")
}

// runRiskStorm trips the per-user risk checks: the order value cap, then
// the daily loss limit after an admin applies a losing day
func runRiskStorm(trader, admin *simulationClient, tally *outcomeTally) {
	log.Info().Msg("Starting risk storm")

	// Trader cap is 50000; this order is worth 60000.
	oversized := orderRequest{
		Symbol:    "GOOGL",
		Side:      "BUY",
		OrderType: "LIMIT",
		Quantity:  200,
		Price:     300,
	}
	result, err := trader.submitOrder(oversized)
	if err != nil {
		log.Error().Err(err).Msg("Oversized submission failed")
	} else {
		tally.record(oversized, result)
		log.Info().Str("code", result.code).Str("message", result.message).Msg("Oversized order verdict")
	}

	// Push the trader past the daily loss limit, then try a routine order.
	if err := admin.applyPnL(trader.userID, -12000); err != nil {
		log.Error().Err(err).Msg("Failed to apply PnL")
		return
	}

	routine := orderRequest{
		Symbol:    "MSFT",
		Side:      "SELL",
		OrderType: "MARKET",
		Quantity:  5,
		Price:     100,
	}
	result, err = trader.submitOrder(routine)
	if err != nil {
		log.Error().Err(err).Msg("Post-loss submission failed")
		return
	}
	tally.record(routine, result)
	log.Info().Str("code", result.code).Str("message", result.message).Msg("Post-loss order verdict")
}

// runReadBack spot checks the read endpoints against approved orders
func runReadBack(client *simulationClient, orderIDs []string) {
	checks := len(orderIDs)
	if checks > 3 {
		checks = 3
	}
	for i := 0; i < checks; i++ {
		status, err := client.getOrder(orderIDs[i])
		if err != nil {
			log.Error().Err(err).Str("order_id", orderIDs[i]).Msg("Failed to fetch order")
			continue
		}
		log.Info().Str("order_id", orderIDs[i]).Str("status", status).Msg("Order fetched")
	}

	count, err := client.listOrders(10)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		return
	}
	log.Info().Int("orders", count).Msg("Listed recent orders")
}

// startServer initializes and starts the admission gateway server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	dedupStore := dedup.NewFailoverStore(dedup.NewDatabase(db), dedup.NewMemoryStore(), cfg.StoreTimeout)
	rateStore := ratelimit.NewFailoverStore(ratelimit.NewDatabase(db), ratelimit.NewMemoryStore(), cfg.StoreTimeout)

	limiter, err := ratelimit.NewLimiter(rateStore, ratelimit.Config{
		Window: cfg.RateLimitWindow,
		Limits: map[string]int{
			ratelimit.ScopeAuth:   cfg.AuthLimit,
			ratelimit.ScopeOrders: cfg.OrderLimit,
			ratelimit.ScopeStatus: cfg.StatusLimit,
		},
		BurstMultiplier:    cfg.BurstMultiplier,
		BlockDuration:      cfg.BlockDuration,
		PruneInterval:      cfg.RatePruneInterval,
		ExemptCIDRs:        cfg.ExemptCIDRs,
		ExemptPathPrefixes: cfg.ExemptPathPrefixes,
	})
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}

	// Initialize services
	authService := auth.NewService(db, cfg.JWTSecret, cfg.SessionTTL)
	rbacService := rbac.NewService(db)
	authService.SetPermissionsSnapshotter(rbacService.PermissionSnapshot)
	dedupService := dedup.NewService(dedupStore, cfg.DedupWindow, cfg.DedupSweepInterval)
	brokerClient := broker.NewSimulatedBroker(broker.Options{
		MinLatency:  cfg.BrokerMinLatency,
		MaxLatency:  cfg.BrokerMaxLatency,
		FailureRate: cfg.BrokerFailureRate,
		ThrottleRPS: cfg.BrokerThrottleRPS,
		Burst:       cfg.BrokerBurst,
	})
	admissionService := admission.NewService(db, rbacService, limiter, dedupService, brokerClient)

	// Register simulation accounts
	ctx := context.Background()
	for _, u := range simUsers {
		authService.RegisterAPICredentials(u.apiKey, u.apiSecret, u.cfg.UserID)
		userCfg := u.cfg
		if _, err := rbacService.GetUser(ctx, userCfg.UserID); err != nil {
			if cerr := rbacService.CreateUser(ctx, &userCfg); cerr != nil {
				return fmt.Errorf("failed to seed user %s: %w", userCfg.UserID, cerr)
			}
		}
	}

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	admissionHandlers := admission.NewGinHandlers(admissionService)
	rbacHandlers := rbac.NewGinHandlers(rbacService)

	// Setup routes
	setupRoutes(router, authService, rbacService, authHandlers, admissionHandlers, rbacHandlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Start the server
	return router.Run(fmt.Sprintf(":%d", cfg.Port))
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware; the
// transport-edge limiter stays off so the storms hit the pipeline's own
// controls
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	rbacService *rbac.Service,
	authHandlers *auth.GinHandlers,
	admissionHandlers *admission.GinHandlers,
	rbacHandlers *rbac.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
			authGroup.POST("/logout", middleware.JWTAuth(authService), authHandlers.LogoutHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(authService))
		{
			orders.POST("", admissionHandlers.SubmitOrderHandler())
			orders.GET("", admissionHandlers.ListOrdersHandler())
			orders.GET("/:order_id", admissionHandlers.GetOrderHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(authService, rbacService))
		{
			internal.POST("/users", rbacHandlers.CreateUserHandler())
			internal.GET("/users", rbacHandlers.ListUsersHandler())
			internal.GET("/users/:user_id", rbacHandlers.GetUserHandler())
			internal.PUT("/users/:user_id", rbacHandlers.UpdateUserHandler())
			internal.POST("/users/:user_id/pnl", rbacHandlers.RecordPnLHandler())
			internal.GET("/users/:user_id/stats", rbacHandlers.GetStatsHandler())
		}
	}
}

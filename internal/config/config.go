package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the admission gateway.
// Values come from the environment with defaults suitable for development.
type Config struct {
	Port      int
	Env       string
	JWTSecret string

	DatabaseDSN  string
	StoreTimeout time.Duration

	// Deduplication.
	DedupWindow        time.Duration
	DedupSweepInterval time.Duration

	// Rate limiting.
	RateLimitWindow    time.Duration
	AuthLimit          int
	OrderLimit         int
	StatusLimit        int
	BurstMultiplier    float64
	BlockDuration      time.Duration
	RatePruneInterval  time.Duration
	ExemptCIDRs        []string
	ExemptPathPrefixes []string

	// Sessions.
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Trading stats.
	StatsResetInterval time.Duration

	// Simulated broker.
	BrokerMinLatency  time.Duration
	BrokerMaxLatency  time.Duration
	BrokerFailureRate float64
	BrokerThrottleRPS float64
	BrokerBurst       int
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	storeTimeout, err := getDuration("STORE_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEOUT: %w", err)
	}

	dedupWindow, err := getDuration("DEDUP_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_WINDOW: %w", err)
	}
	dedupSweep, err := getDuration("DEDUP_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_SWEEP_INTERVAL: %w", err)
	}

	rateWindow, err := getDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	authLimit, err := getInt("RATE_LIMIT_AUTH", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_AUTH: %w", err)
	}
	orderLimit, err := getInt("RATE_LIMIT_ORDERS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_ORDERS: %w", err)
	}
	statusLimit, err := getInt("RATE_LIMIT_STATUS", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_STATUS: %w", err)
	}
	burstMultiplier, err := getFloat("RATE_LIMIT_BURST_MULTIPLIER", 2.0)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST_MULTIPLIER: %w", err)
	}
	if burstMultiplier < 1.0 {
		return nil, fmt.Errorf("RATE_LIMIT_BURST_MULTIPLIER must be >= 1.0, got %v", burstMultiplier)
	}
	blockDuration, err := getDuration("RATE_LIMIT_BLOCK_DURATION", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BLOCK_DURATION: %w", err)
	}
	ratePrune, err := getDuration("RATE_LIMIT_PRUNE_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PRUNE_INTERVAL: %w", err)
	}

	exemptCIDRs := getList("RATE_LIMIT_EXEMPT_CIDRS", []string{
		"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	})
	for _, cidr := range exemptCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_EXEMPT_CIDRS entry %q: %w", cidr, err)
		}
	}
	exemptPaths := getList("RATE_LIMIT_EXEMPT_PATHS", []string{"/healthz", "/metrics"})

	sessionTTL, err := getDuration("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	sessionSweep, err := getDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_SWEEP_INTERVAL: %w", err)
	}

	statsReset, err := getDuration("STATS_RESET_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_RESET_INTERVAL: %w", err)
	}

	brokerMinLatency, err := getDuration("BROKER_MIN_LATENCY", 5*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_MIN_LATENCY: %w", err)
	}
	brokerMaxLatency, err := getDuration("BROKER_MAX_LATENCY", 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_MAX_LATENCY: %w", err)
	}
	if brokerMaxLatency < brokerMinLatency {
		return nil, fmt.Errorf("BROKER_MAX_LATENCY %v is below BROKER_MIN_LATENCY %v", brokerMaxLatency, brokerMinLatency)
	}
	brokerFailureRate, err := getFloat("BROKER_FAILURE_RATE", 0.0)
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_FAILURE_RATE: %w", err)
	}
	if brokerFailureRate < 0 || brokerFailureRate > 1 {
		return nil, fmt.Errorf("BROKER_FAILURE_RATE must be in [0,1], got %v", brokerFailureRate)
	}
	brokerThrottle, err := getFloat("BROKER_THROTTLE_RPS", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_THROTTLE_RPS: %w", err)
	}
	brokerBurst, err := getInt("BROKER_THROTTLE_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_THROTTLE_BURST: %w", err)
	}

	return &Config{
		Port:                 port,
		Env:                  getStr("ENV", "development"),
		JWTSecret:            getStr("JWT_SECRET", "gateway-secret-key"),
		DatabaseDSN:          getStr("DATABASE_DSN", "gateway.db"),
		StoreTimeout:         storeTimeout,
		DedupWindow:          dedupWindow,
		DedupSweepInterval:   dedupSweep,
		RateLimitWindow:      rateWindow,
		AuthLimit:            authLimit,
		OrderLimit:           orderLimit,
		StatusLimit:          statusLimit,
		BurstMultiplier:      burstMultiplier,
		BlockDuration:        blockDuration,
		RatePruneInterval:    ratePrune,
		ExemptCIDRs:          exemptCIDRs,
		ExemptPathPrefixes:   exemptPaths,
		SessionTTL:           sessionTTL,
		SessionSweepInterval: sessionSweep,
		StatsResetInterval:   statsReset,
		BrokerMinLatency:     brokerMinLatency,
		BrokerMaxLatency:     brokerMaxLatency,
		BrokerFailureRate:    brokerFailureRate,
		BrokerThrottleRPS:    brokerThrottle,
		BrokerBurst:          brokerBurst,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getList(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

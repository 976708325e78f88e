// Package config assembles process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the settings the gateway core needs at process start.
// Everything is read once in Load and passed down explicitly; nothing
// here is read lazily from os.Getenv outside of this package.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	RedisPass   string

	// SkipGatewayUpdate disables the reconciler's remote update.sh phase,
	// mirroring DSTACK_SKIP_GATEWAY_UPDATE from the original implementation.
	SkipGatewayUpdate bool

	// GatewayWheelURL and GatewayBuild are passed as arguments to the
	// remote dstack/update.sh script the reconciler runs on every live
	// gateway (spec.md §4.H).
	GatewayWheelURL string
	GatewayBuild    string

	GatewayConnectAttempts   int
	GatewayConnectDelay      time.Duration
	GatewayConfigureAttempts int
	GatewayConfigureDelay    time.Duration
}

// Load builds a Config from the process environment, applying the same
// defaults the spec fixes as constants.
func Load() Config {
	return Config{
		DatabaseURL:              getenv("DATABASE_URL", "postgres://localhost:5432/fleetctl?sslmode=disable"),
		RedisAddr:                getenv("REDIS_URL", "localhost:6379"),
		RedisPass:                os.Getenv("REDIS_PASSWORD"),
		SkipGatewayUpdate:        getenvBool("SKIP_GATEWAY_UPDATE", false),
		GatewayWheelURL:          getenv("GATEWAY_WHEEL_URL", ""),
		GatewayBuild:             getenv("GATEWAY_BUILD", "stable"),
		GatewayConnectAttempts:   30,
		GatewayConnectDelay:      10 * time.Second,
		GatewayConfigureAttempts: 40,
		GatewayConfigureDelay:    3 * time.Second,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

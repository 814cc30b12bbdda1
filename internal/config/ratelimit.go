package config

import "time"

// RateLimitConfig drives the Redis token bucket middleware.  The general
// bucket covers every API route, AuthCapacity is a tighter bucket applied to
// login, register and password recovery.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	AuthCapacity   int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
}

func LoadRateLimitConfig() RateLimitConfig {
	rl := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 120),
		AuthCapacity:   envInt("RATE_LIMIT_AUTH_CAPACITY", 10),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "chama:rl"),
	}
	if rl.Capacity < 1 {
		rl.Capacity = 1
	}
	if rl.AuthCapacity < 1 {
		rl.AuthCapacity = 1
	}
	if rl.RefillTokens < 1 {
		rl.RefillTokens = 1
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = time.Second
	}
	if minTTL := 5 * rl.RefillInterval; rl.TTL < minTTL {
		rl.TTL = minTTL
	}
	return rl
}

// ForAuth returns a copy of the config using the auth bucket size and a
// separate key prefix so both buckets are tracked independently.
func (rl RateLimitConfig) ForAuth() RateLimitConfig {
	out := rl
	out.Capacity = rl.AuthCapacity
	out.KeyStrategy = "ip_route"
	out.Prefix = rl.Prefix + ":auth"
	return out
}

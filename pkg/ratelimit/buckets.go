package ratelimit

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket is one independent admission budget. Budgets are keyed
// separately: exhausting one never consumes another.
type Bucket struct {
	Name   string
	Window time.Duration
	Limit  int
}

// The three budgets the API runs with. Sensitive covers credential
// creation, recovery covers password resets.
var (
	GeneralBucket   = Bucket{Name: "general", Window: 15 * time.Minute, Limit: 100}
	SensitiveBucket = Bucket{Name: "sensitive", Window: 15 * time.Minute, Limit: 5}
	RecoveryBucket  = Bucket{Name: "recovery", Window: time.Hour, Limit: 3}
)

// Set holds one limiter per bucket. Each bucket gets its own window,
// its own key prefix and therefore its own counters.
type Set struct {
	buckets map[string]Bucket
	limits  map[string]Limiter
}

// NewSet builds per-bucket limiters. With a nil client counters stay in
// process memory; deployments scaling past one instance must hand in a
// Redis client so budgets are shared.
func NewSet(client *redis.Client, buckets ...Bucket) *Set {
	s := &Set{
		buckets: make(map[string]Bucket, len(buckets)),
		limits:  make(map[string]Limiter, len(buckets)),
	}
	for _, b := range buckets {
		if b.Name == "" || b.Limit <= 0 || b.Window <= 0 {
			continue
		}
		s.buckets[b.Name] = b
		if client != nil {
			s.limits[b.Name] = NewRedis(client, b.Window, "rl:"+b.Name+":")
		} else {
			s.limits[b.Name] = NewInMemory(b.Window)
		}
	}
	return s
}

// Admit charges one request from the named bucket for the client key.
// Unknown buckets allow; misconfiguration must not take the API down.
func (s *Set) Admit(bucket, clientKey string) Decision {
	if s == nil {
		return Decision{Allowed: true}
	}
	b, ok := s.buckets[bucket]
	if !ok {
		return Decision{Allowed: true}
	}
	return s.limits[bucket].Allow(clientKey, b.Limit)
}

package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RateLimiter ограничивает частоту запросов по ключу (token bucket).
// Защищает ingest от петли автоматических писателей: один сорвавшийся
// агент не должен забивать event log всего корабля.
type RateLimiter struct {
	buckets  map[string]*bucket
	logger   *slog.Logger
	cleanupC chan struct{}
	rate     int
	window   time.Duration
	mu       sync.RWMutex
}

// bucket хранит состояние одного writer
type bucket struct {
	lastRefill time.Time
	tokens     int
	mu         sync.Mutex
}

// NewRateLimiter создает новый rate limiter:
// rate запросов на writer в пределах window.
func NewRateLimiter(rate int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		window:   window,
		logger:   logger,
		cleanupC: make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow проверяет и потребляет токен для ключа
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		b, ok = rl.buckets[key]
		if !ok {
			b = &bucket{tokens: rl.rate, lastRefill: time.Now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := time.Since(b.lastRefill); elapsed >= rl.window {
		b.tokens = rl.rate
		b.lastRefill = time.Now()
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware оборачивает handler; ключ извлекается keyFunc
// (например writer_id из тела или remote addr).
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				key = r.RemoteAddr
			}

			if !rl.Allow(key) {
				rl.logger.Warn("Rate limit exceeded", "key", key, "path", r.URL.Path)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop останавливает фоновую очистку
func (rl *RateLimiter) Stop() {
	close(rl.cleanupC)
}

// cleanup периодически удаляет неактивные buckets для экономии памяти
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupOldBuckets()
		case <-rl.cleanupC:
			return
		}
	}
}

func (rl *RateLimiter) cleanupOldBuckets() {
	cutoff := time.Now().Add(-rl.window * 2)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(rl.buckets, key)
		}
	}
}

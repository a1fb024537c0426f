// Package persistence implements the C6 façade (spec §4.6):
// save_execution, load_history_slice, save_event_batch, cleanup, health.
// Grounded directly on pkg/discovery/redis.go's RedisDiscovery:
// connect-with-retry + exponential backoff, a local DiscoveryCache-style
// fallback, and the persistEnabled/persistPath snapshot pattern become
// the spool-directory + Redis backend pair here.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
)

// Config configures the Store's Redis backend and spool fallback.
type Config struct {
	RedisURL    string
	SpoolDir    string
	CleanupDays int
}

// Health reports the backend in use ("redis" or "spool"), the Redis ping
// latency, and whether write recency is within the health limits.
type Health struct {
	Backend   string
	LatencyMs int64
	OK        bool
	Message   string
}

// Store is the persistence façade. Writes go to Redis when reachable;
// on failure they're appended to a local spool directory. Spooled writes
// reach Redis only through ReplaySpool; nothing calls it automatically on
// reconnect. Reads during an outage return empty slices rather than
// blocking the orchestrator (spec §4.6).
type Store struct {
	client   *redis.Client
	spoolDir string
	cleanup  time.Duration
	log      logger.Logger

	mu            sync.Mutex
	lastWriteOK   time.Time
	lastSpoolTime time.Time
	connected     bool
}

type executionRecord struct {
	RunID           string                          `json:"run_id"`
	SavedAt         time.Time                       `json:"saved_at"`
	Request         *domain.ExecutionRequest        `json:"request"`
	Plan            *domain.ExecutionPlan           `json:"plan"`
	Result          *domain.ExecutionResult         `json:"result"`
	Classifications []domain.FailureClassification  `json:"classifications"`
}

// New constructs a Store, attempting an initial Redis connection with
// retry; failure to connect does not prevent construction — writes fall
// back to the spool directory immediately.
func New(cfg Config, log logger.Logger) *Store {
	if log == nil {
		log = logger.NoOp{}
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = "/data/cache/spool"
	}
	days := cfg.CleanupDays
	if days <= 0 {
		days = 30
	}

	s := &Store{
		spoolDir: cfg.SpoolDir,
		cleanup:  time.Duration(days) * 24 * time.Hour,
		log:      log.WithComponent("persistence"),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.log.Error("invalid redis url, spool-only mode", map[string]interface{}{"error": err.Error()})
		} else {
			s.client = redis.NewClient(opts)
			s.connected = s.connectWithRetry()
		}
	}

	_ = os.MkdirAll(s.spoolDir, 0o755)
	return s
}

// connectWithRetry mirrors RedisDiscovery.connectWithRetry's three-attempt
// exponential backoff ping loop.
func (s *Store) connectWithRetry() bool {
	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.client.Ping(ctx).Err()
		cancel()
		if err == nil {
			s.log.Info("connected to redis", map[string]interface{}{"attempt": attempt + 1})
			return true
		}
		s.log.Warn("redis connection attempt failed", map[string]interface{}{"attempt": attempt + 1, "error": err.Error()})
		if attempt < maxRetries-1 {
			backoff := time.Duration(math.Pow(2, float64(attempt+1))) * time.Second
			time.Sleep(backoff)
		}
	}
	s.log.Error("redis unreachable after retries, spool-only mode", nil)
	return false
}

// SaveExecution persists the (request, plan, result, classifications)
// tuple, writing to Redis when connected or spooling to disk otherwise.
func (s *Store) SaveExecution(ctx context.Context, req *domain.ExecutionRequest, plan *domain.ExecutionPlan, result *domain.ExecutionResult, classifications []domain.FailureClassification) error {
	rec := executionRecord{
		RunID:           uuid.New().String(),
		SavedAt:         time.Now(),
		Request:         req,
		Plan:            plan,
		Result:          result,
		Classifications: classifications,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}

	if s.tryRedis(ctx) {
		key := fmt.Sprintf("crossbridge:execution:%s", rec.RunID)
		if err := s.client.Set(ctx, key, data, s.cleanup).Err(); err == nil {
			s.mu.Lock()
			s.lastWriteOK = time.Now()
			s.mu.Unlock()
			return nil
		}
		s.markDisconnected()
	}

	return s.spool("execution", data)
}

// SaveEventBatch persists a batch of sidecar-observed events (spool/Redis
// same as SaveExecution, keyed by the write's UnixNano timestamp).
func (s *Store) SaveEventBatch(ctx context.Context, events []domain.ObservedEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal event batch: %w", err)
	}

	if s.tryRedis(ctx) {
		key := fmt.Sprintf("crossbridge:events:%d", time.Now().UnixNano())
		if err := s.client.Set(ctx, key, data, s.cleanup).Err(); err == nil {
			s.mu.Lock()
			s.lastWriteOK = time.Now()
			s.mu.Unlock()
			return nil
		}
		s.markDisconnected()
	}
	return s.spool("events", data)
}

// LoadHistorySlice reads history entries for testIDs. During an outage
// it returns an empty map rather than blocking the orchestrator.
func (s *Store) LoadHistorySlice(ctx context.Context, testIDs []string, window time.Duration) (map[string]domain.TestHistoryEntry, error) {
	out := map[string]domain.TestHistoryEntry{}
	if !s.tryRedis(ctx) {
		return out, nil
	}

	for _, id := range testIDs {
		key := fmt.Sprintf("crossbridge:history:%s", id)
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var entry domain.TestHistoryEntry
		if json.Unmarshal(raw, &entry) == nil {
			out[id] = entry
		}
	}
	return out, nil
}

// Cleanup removes spool files last modified more than olderThanDays ago.
// Redis is not scanned; Redis records expire by the TTL set when written.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) error {
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	entries, err := os.ReadDir(s.spoolDir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.spoolDir, e.Name()))
		}
	}
	return nil
}

// HealthCheck reports backend reachability and write recency, feeding
// C7's persistence-component health rule (spec §4.7: "last write
// succeeded within the last 60s OR spool age < 300s").
func (s *Store) HealthCheck(ctx context.Context) Health {
	s.mu.Lock()
	lastWrite := s.lastWriteOK
	lastSpool := s.lastSpoolTime
	connected := s.connected
	s.mu.Unlock()

	backend := "redis"
	if !connected {
		backend = "spool"
	}

	ok := time.Since(lastWrite) < 60*time.Second || time.Since(lastSpool) < 300*time.Second
	if lastWrite.IsZero() && lastSpool.IsZero() {
		ok = true // cold start, nothing written yet
	}

	start := time.Now()
	latency := int64(0)
	if s.client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.client.Ping(pingCtx).Err()
		cancel()
		latency = time.Since(start).Milliseconds()
		if err == nil {
			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()
			backend = "redis"
		}
	}

	return Health{Backend: backend, LatencyMs: latency, OK: ok}
}

func (s *Store) tryRedis(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		return true
	}
	return s.connectWithRetry()
}

func (s *Store) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// spool appends an append-only JSON line to the spool directory so the
// write can be replayed once Redis reconnects.
func (s *Store) spool(kind string, data []byte) error {
	path := filepath.Join(s.spoolDir, kind+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write spool entry: %w", err)
	}
	s.mu.Lock()
	s.lastSpoolTime = time.Now()
	s.mu.Unlock()
	return nil
}

// ReplaySpool stores the whole spool file for kind in Redis as one value
// under a crossbridge:replay key once reconnected, then removes the file.
func (s *Store) ReplaySpool(ctx context.Context, kind string) error {
	if !s.tryRedis(ctx) {
		return nil
	}
	path := filepath.Join(s.spoolDir, kind+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	key := fmt.Sprintf("crossbridge:replay:%s:%d", kind, time.Now().UnixNano())
	if err := s.client.Set(ctx, key, data, s.cleanup).Err(); err != nil {
		return err
	}
	return os.Remove(path)
}

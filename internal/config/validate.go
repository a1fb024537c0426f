package config

import (
	"fmt"

	"github.com/crossbridge-dev/crossbridge/internal/apperrors"
)

// ErrInvalidConfig re-exports the apperrors sentinel so config.Load callers
// don't need to import apperrors just to compare errors.
var ErrInvalidConfig = apperrors.ErrInvalidConfig

// Validate applies strict type/range checks beyond what viper's Unmarshal
// catches (spec §4.8: "type mismatches fail with a config error").
func Validate(cfg *Config) error {
	if cfg.Sidecar.MaxQueueSize < 0 {
		return fmt.Errorf("%w: sidecar.max_queue_size must be >= 0", ErrInvalidConfig)
	}
	if cfg.Sidecar.WorkerPoolSize <= 0 {
		return fmt.Errorf("%w: sidecar.worker_pool_size must be > 0", ErrInvalidConfig)
	}
	if cfg.Execution.ImpactedSimilarity < 0 || cfg.Execution.ImpactedSimilarity > 1 {
		return fmt.Errorf("%w: execution.impacted_similarity_threshold must be in [0,1]", ErrInvalidConfig)
	}
	for _, rate := range []float64{
		cfg.Sidecar.Sampling.Events, cfg.Sidecar.Sampling.Traces,
		cfg.Sidecar.Sampling.Profiling, cfg.Sidecar.Sampling.TestEvents,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%w: sampling rates must be in [0,1]", ErrInvalidConfig)
		}
	}
	return nil
}

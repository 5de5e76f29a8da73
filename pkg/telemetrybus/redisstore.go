package telemetrybus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ormind-ai/ormind/core"
	"github.com/ormind-ai/ormind/pkg/domain"
)

// redisStore backs a Bus with core.RedisClient's DB-isolated, namespaced
// Redis wrapper instead of an in-process map, letting several ormind
// replicas share one bounded telemetry window per instance. Grounded on
// the reference framework's own RPush/LTrim sliding-window list pattern
// (its session message history) and its reserved RedisDBTelemetry DB
// slot, set aside for exactly this.
type redisStore struct {
	client *core.RedisClient
}

// NewRedisStore builds a Store backed by Redis. redisURL is passed
// through to core.RedisClient, which selects core.RedisDBTelemetry and
// namespaces every key under "gomind:telemetry".
func NewRedisStore(redisURL string, logger core.Logger) (Store, error) {
	const namespace = "gomind:telemetry"
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  redisURL,
		DB:        core.RedisDBTelemetry,
		Namespace: namespace,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetrybus: %w", err)
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) streamKey(instanceID string) string {
	return fmt.Sprintf("stream:%s", instanceID)
}

// Push appends sample to instanceID's list and trims it to WindowSize in
// one round trip, mirroring the RPush+LTrim pipeline the reference
// framework uses to bound its own Redis-backed message history.
func (s *redisStore) Push(ctx context.Context, instanceID string, sample domain.TelemetrySample) error {
	encoded, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("telemetrybus: encode sample: %w", err)
	}

	key := s.client.FormatKey(s.streamKey(instanceID))
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, -int64(WindowSize), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("telemetrybus: push sample: %w", err)
	}
	return nil
}

// Recent returns the last n samples recorded for instanceID (n<=0 or
// n>WindowSize returns the whole bounded window).
func (s *redisStore) Recent(ctx context.Context, instanceID string, n int) ([]domain.TelemetrySample, error) {
	if n <= 0 || n > WindowSize {
		n = WindowSize
	}
	raw, err := s.client.LRange(ctx, s.streamKey(instanceID), -int64(n), -1)
	if err != nil {
		return nil, fmt.Errorf("telemetrybus: fetch samples: %w", err)
	}

	out := make([]domain.TelemetrySample, 0, len(raw))
	for _, entry := range raw {
		var sample domain.TelemetrySample
		if err := json.Unmarshal([]byte(entry), &sample); err != nil {
			return nil, fmt.Errorf("telemetrybus: decode sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, nil
}

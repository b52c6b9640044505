package live

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for the latest pipeline state. Single camera per vehicle, so no
// id in the key.
const (
	keyScore     = "state:latest:suspicion_score"
	keyRecording = "state:latest:recording"
	keyUpdated   = "state:latest:updated_at"
	keyResponse  = "state:latest:response"

	// stateTTL ages the cache out when the edge goes silent, so /api/status
	// does not report a score from an hour ago as current.
	stateTTL = time.Minute
)

// Status is the /api/status payload.
type Status struct {
	SuspicionScore float64   `json:"suspicion_score"`
	Recording      bool      `json:"recording"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StateCache keeps the newest score/recording/response in Redis so status
// queries never touch the broker.
type StateCache struct {
	rdb *redis.Client
}

func NewStateCache(rdb *redis.Client) *StateCache {
	return &StateCache{rdb: rdb}
}

func (c *StateCache) SetScore(ctx context.Context, score float64) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, keyScore, score, stateTTL)
	pipe.Set(ctx, keyUpdated, time.Now().UTC().Format(time.RFC3339Nano), stateTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *StateCache) SetRecording(ctx context.Context, recording bool) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, keyRecording, strconv.FormatBool(recording), stateTTL)
	pipe.Set(ctx, keyUpdated, time.Now().UTC().Format(time.RFC3339Nano), stateTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *StateCache) SetResponse(ctx context.Context, message string) error {
	return c.rdb.Set(ctx, keyResponse, message, stateTTL).Err()
}

// Status reads the cached state. Missing keys read as zero values; an edge
// that has never published reports score 0, not recording.
func (c *StateCache) Status(ctx context.Context) (*Status, error) {
	vals, err := c.rdb.MGet(ctx, keyScore, keyRecording, keyUpdated).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var s Status
	if len(vals) == 3 {
		if v, ok := vals[0].(string); ok {
			s.SuspicionScore, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := vals[1].(string); ok {
			s.Recording, _ = strconv.ParseBool(v)
		}
		if v, ok := vals[2].(string); ok {
			s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	return &s, nil
}

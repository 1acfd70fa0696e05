package rotation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisKeyState holds the persisted rotation cursor.
const redisKeyState = "celebwire:rotation:state"

// CursorStore persists the rotation cursor in Redis so successive fetch
// cycles, and restarts, continue round-robin where the last cycle left off.
type CursorStore struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewCursorStore creates a cursor store backed by Redis.
func NewCursorStore(redisClient *redis.Client, logger zerolog.Logger) *CursorStore {
	return &CursorStore{
		redis:  redisClient,
		logger: logger,
	}
}

// Load retrieves the persisted rotation state. Returns the zero state when
// nothing has been persisted yet.
func (s *CursorStore) Load(ctx context.Context) (State, error) {
	data, err := s.redis.Get(ctx, redisKeyState).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.logger.Debug().Msg("No rotation state persisted, starting at cursor 0")
			return State{}, nil
		}
		return State{}, fmt.Errorf("redis get rotation state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("unmarshal rotation state: %w", err)
	}
	return state, nil
}

// Save persists the rotation state.
func (s *CursorStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rotation state: %w", err)
	}

	if err := s.redis.Set(ctx, redisKeyState, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set rotation state: %w", err)
	}

	s.logger.Debug().
		Int("cursor", state.Cursor).
		Int("total_batches", state.TotalBatches).
		Msg("Rotation state persisted")
	return nil
}

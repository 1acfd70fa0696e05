//go:build integration

package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestManager_Integration_TTLHonoredByRedis(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	manager := NewManager(client, zerolog.Nop())
	ctx := context.Background()

	key := Key{Category: CategoryList, Params: map[string]string{"page": "1"}}
	payload := []byte(`{"articles":[]}`)

	if err := manager.Set(ctx, key, payload, 2*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get() = %s, want %s", got, payload)
	}

	// Redis evicts the key itself once the TTL passes.
	time.Sleep(3 * time.Second)

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() after expiry = %v, want ErrCacheMiss", err)
	}

	exists, err := client.Exists(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Error("Redis should have evicted the expired key")
	}
}

func TestManager_Integration_InvalidationSharedAcrossManagers(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	writer := NewManager(client, zerolog.Nop())
	reader := NewManager(client, zerolog.Nop())
	ctx := context.Background()

	key := Key{Category: CategoryList}
	if err := writer.Set(ctx, key, []byte("shared"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// A second manager over the same Redis sees the entry.
	if _, err := reader.Get(ctx, key); err != nil {
		t.Fatalf("Get() from second manager error = %v", err)
	}

	if _, err := writer.Invalidate(ctx, "news"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if _, err := reader.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() after invalidation = %v, want ErrCacheMiss", err)
	}
}

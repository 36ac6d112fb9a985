//go:build integration

package testutil

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDB is the database integration tests use.
const RedisDB = 15

// RedisAddr returns the address of the test Redis (IP:port). It checks
// NEWTDEPLOY_TEST_REDIS_ADDR first, then the Docker container.
func RedisAddr() string {
	if addr := os.Getenv("NEWTDEPLOY_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		"newtdeploy-test-redis").Output()
	if err != nil {
		return ""
	}
	ip := strings.TrimSpace(string(out))
	if ip == "" {
		return ""
	}
	return ip + ":6379"
}

// SkipIfNoRedis skips the test if the test Redis is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not available: set NEWTDEPLOY_TEST_REDIS_ADDR")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}

// RedisClient returns a client on RedisDB, flushed and closed on cleanup.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	SkipIfNoRedis(t)

	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: RedisDB})
	FlushDB(t, client)
	t.Cleanup(func() { client.Close() })
	return client
}

// FlushDB empties the client's database.
func FlushDB(t *testing.T, client *redis.Client) {
	t.Helper()
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB: %v", err)
	}
}

// KeyCount returns the number of keys matching pattern.
func KeyCount(t *testing.T, client *redis.Client, pattern string) int {
	t.Helper()
	keys, err := client.Keys(context.Background(), pattern).Result()
	if err != nil {
		t.Fatalf("listing keys %s: %v", pattern, err)
	}
	return len(keys)
}

// Context returns a context with a test timeout, cancelled on cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

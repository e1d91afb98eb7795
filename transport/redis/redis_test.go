package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmona/pubsession/transport"
	"github.com/jmona/pubsession/transport/transporttest"
)

func TestRedisTransport(t *testing.T) {
	// Skip if Redis is not available
	probe := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	if err := probe.Ping(context.Background()).Err(); err != nil {
		probe.Close()
		t.Skipf("Redis not available: %v", err)
	}
	probe.Close()

	transporttest.RunTransportTests(t, func(t *testing.T) transport.Transport {
		client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
		prefix := "test:pubsession:" + t.Name() + ":"
		t.Cleanup(func() {
			keys, err := client.Keys(context.Background(), prefix+"*").Result()
			if err == nil && len(keys) > 0 {
				client.Del(context.Background(), keys...)
			}
			client.Close()
		})
		return New(Config{
			Client:    client,
			KeyPrefix: prefix,
			PullBlock: 2 * time.Second,
		})
	})
}

func TestConfigDefaults(t *testing.T) {
	tr := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: "localhost:0"})})
	if tr.keyPrefix != "pubsession:" {
		t.Fatalf("expected default key prefix, got %q", tr.keyPrefix)
	}
	if tr.pullBlock != 30*time.Second {
		t.Fatalf("expected default pull block, got %v", tr.pullBlock)
	}
	if tr.ownsClient {
		t.Fatal("injected client must not be owned")
	}
}

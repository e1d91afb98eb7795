package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jmona/pubsession/transport"
	"github.com/jmona/pubsession/transport/transporttest"
)

func TestMemoryTransport(t *testing.T) {
	transporttest.RunTransportTests(t, func(t *testing.T) transport.Transport {
		return New(Config{PullBlock: 2 * time.Second})
	})
}

func TestAuthorizeRequiresAccount(t *testing.T) {
	tr := New(Config{})
	_, err := tr.Authorize(context.Background(), nil, "proj", []string{transport.ScopeConsume})
	if err == nil {
		t.Fatal("expected error for nil account")
	}
}

func TestAuthorizeRequiresProject(t *testing.T) {
	tr := New(Config{})
	_, err := tr.Authorize(context.Background(), transporttest.NewAccount(t), "", nil)
	if err == nil {
		t.Fatal("expected error for empty project id")
	}
}

func TestConnRefusesUseAfterClose(t *testing.T) {
	tr := New(Config{})
	conn, err := tr.Authorize(context.Background(), transporttest.NewAccount(t), "proj",
		[]string{transport.ScopePublish, transport.ScopeConsume})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := conn.Publish(context.Background(), "topic", []byte("x")); err == nil {
		t.Fatal("expected publish on closed conn to fail")
	}
	res := conn.CreateSubscription(context.Background(), "s", "topic")
	if res.Status != transport.StatusFailed {
		t.Fatalf("expected StatusFailed on closed conn, got %d", res.Status)
	}
}

func TestPullHonorsContextCancellation(t *testing.T) {
	tr := New(Config{PullBlock: 30 * time.Second})
	conn, err := tr.Authorize(context.Background(), transporttest.NewAccount(t), "proj",
		[]string{transport.ScopePublish, transport.ScopeConsume})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer conn.Close()

	res := conn.CreateSubscription(context.Background(), "s-cancel", "topic-cancel")
	if res.Status != transport.StatusCreated {
		t.Fatalf("create: status %d, err %v", res.Status, res.Err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = res.Subscription.Pull(ctx, true)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestAckIsIdempotent(t *testing.T) {
	tr := New(Config{})
	conn, err := tr.Authorize(context.Background(), transporttest.NewAccount(t), "proj",
		[]string{transport.ScopePublish, transport.ScopeConsume})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	res := conn.CreateSubscription(ctx, "s-ack", "topic-ack")
	if res.Status != transport.StatusCreated {
		t.Fatalf("create: status %d, err %v", res.Status, res.Err)
	}
	if err := conn.Publish(ctx, "topic-ack", []byte("once")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env, err := res.Subscription.Pull(ctx, false)
	if err != nil || env == nil {
		t.Fatalf("pull: env=%v err=%v", env, err)
	}
	if err := env.Ack(ctx); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := env.Ack(ctx); err != nil {
		t.Fatalf("second ack: %v", err)
	}
}

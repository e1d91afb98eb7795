// Package transporttest provides a reusable contract test suite for
// transport implementations, plus helpers for minting throwaway
// service-account credentials in tests.
package transporttest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/jmona/pubsession/credentials"
	"github.com/jmona/pubsession/transport"
)

// Factory creates a fresh transport instance for a test run.
type Factory func(t *testing.T) transport.Transport

// NewAccountJSON mints raw service-account JSON with a freshly generated RSA
// key, suitable for feeding to credentials.Parse or Session.Initialize.
func NewAccountJSON(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "test-project",
		"private_key_id": "test-key-1",
		"private_key":    pemStr,
		"client_email":   "tester@test-project.example",
	})
	if err != nil {
		t.Fatalf("marshal account: %v", err)
	}
	return raw
}

// NewAccount mints a parsed throwaway service account.
func NewAccount(t *testing.T) *credentials.ServiceAccount {
	t.Helper()
	sa, err := credentials.Parse(NewAccountJSON(t))
	if err != nil {
		t.Fatalf("parse account: %v", err)
	}
	return sa
}

func authorize(t *testing.T, tr transport.Transport) transport.Conn {
	t.Helper()
	conn, err := tr.Authorize(context.Background(), NewAccount(t), "test-project",
		[]string{transport.ScopePublish, transport.ScopeConsume})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return conn
}

func mustCreate(t *testing.T, conn transport.Conn, name, topic string) transport.Subscription {
	t.Helper()
	res := conn.CreateSubscription(context.Background(), name, topic)
	if res.Status != transport.StatusCreated {
		t.Fatalf("create %s: status %d, err %v", name, res.Status, res.Err)
	}
	if res.Subscription == nil {
		t.Fatalf("create %s: nil subscription on StatusCreated", name)
	}
	return res.Subscription
}

// RunTransportTests runs the complete contract suite against the factory.
func RunTransportTests(t *testing.T, factory Factory) {
	t.Run("AuthorizeWithValidAccount", func(t *testing.T) {
		testAuthorize(t, factory)
	})
	t.Run("CreateConflictLookup", func(t *testing.T) {
		testCreateConflictLookup(t, factory)
	})
	t.Run("PublishPullAck", func(t *testing.T) {
		testPublishPullAck(t, factory)
	})
	t.Run("RedeliveryWithoutAck", func(t *testing.T) {
		testRedeliveryWithoutAck(t, factory)
	})
	t.Run("NonBlockingPullOnEmpty", func(t *testing.T) {
		testNonBlockingPullOnEmpty(t, factory)
	})
	t.Run("BlockingPullReceivesLatePublish", func(t *testing.T) {
		testBlockingPullReceivesLatePublish(t, factory)
	})
	t.Run("FanOutToSiblingSubscriptions", func(t *testing.T) {
		testFanOut(t, factory)
	})
	t.Run("TopicIsolation", func(t *testing.T) {
		testTopicIsolation(t, factory)
	})
	t.Run("DeleteSubscription", func(t *testing.T) {
		testDeleteSubscription(t, factory)
	})
}

func testAuthorize(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func testCreateConflictLookup(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	mustCreate(t, conn, "sub-conflict", "topic-conflict")

	res := conn.CreateSubscription(ctx, "sub-conflict", "topic-conflict")
	if res.Status != transport.StatusAlreadyExists {
		t.Fatalf("second create: expected StatusAlreadyExists, got %d (err %v)", res.Status, res.Err)
	}

	sub, err := conn.LookupSubscription(ctx, "sub-conflict")
	if err != nil {
		t.Fatalf("lookup after conflict: %v", err)
	}
	if sub == nil {
		t.Fatal("lookup returned nil subscription")
	}

	// The looked-up handle must observe subsequent publishes.
	if err := conn.Publish(ctx, "topic-conflict", []byte("after-conflict")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	env := pullOne(t, sub, true)
	if string(env.Data) != "after-conflict" {
		t.Fatalf("expected payload %q, got %q", "after-conflict", env.Data)
	}
}

func testPublishPullAck(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	sub := mustCreate(t, conn, "sub-ppa", "topic-ppa")

	if err := conn.Publish(ctx, "topic-ppa", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env := pullOne(t, sub, true)
	if env.ID == "" {
		t.Fatal("expected non-empty envelope ID")
	}
	if string(env.Data) != `{"n":1}` {
		t.Fatalf("unexpected payload: %s", env.Data)
	}
	if err := env.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// Acked: nothing left to pull.
	env2, err := sub.Pull(ctx, false)
	if err != nil {
		t.Fatalf("pull after ack: %v", err)
	}
	if env2 != nil {
		t.Fatalf("expected empty pull after ack, got %s", env2.Data)
	}
}

func testRedeliveryWithoutAck(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	sub := mustCreate(t, conn, "sub-redeliver", "topic-redeliver")

	if err := conn.Publish(ctx, "topic-redeliver", []byte("sticky")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := pullOne(t, sub, true)
	// Not acknowledged: the same entry must come back.
	second := pullOne(t, sub, true)
	if second.ID != first.ID {
		t.Fatalf("expected redelivery of %s, got %s", first.ID, second.ID)
	}
	if err := second.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	env, err := sub.Pull(ctx, false)
	if err != nil {
		t.Fatalf("pull after ack: %v", err)
	}
	if env != nil {
		t.Fatalf("expected empty pull after ack, got %s", env.Data)
	}
}

func testNonBlockingPullOnEmpty(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()

	sub := mustCreate(t, conn, "sub-empty", "topic-empty")

	start := time.Now()
	env, err := sub.Pull(context.Background(), false)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if env != nil {
		t.Fatalf("expected nil envelope, got %s", env.Data)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("non-blocking pull took %v", elapsed)
	}
}

func testBlockingPullReceivesLatePublish(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	sub := mustCreate(t, conn, "sub-late", "topic-late")

	errc := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		errc <- conn.Publish(ctx, "topic-late", []byte("late"))
	}()

	env := pullOne(t, sub, true)
	if string(env.Data) != "late" {
		t.Fatalf("unexpected payload: %s", env.Data)
	}
	if err := env.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func testFanOut(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	subA := mustCreate(t, conn, "sub-fan-a", "topic-fan")
	subB := mustCreate(t, conn, "sub-fan-b", "topic-fan")

	if err := conn.Publish(ctx, "topic-fan", []byte("broadcast")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, sub := range map[string]transport.Subscription{"a": subA, "b": subB} {
		env := pullOne(t, sub, true)
		if string(env.Data) != "broadcast" {
			t.Fatalf("subscription %s: unexpected payload %s", name, env.Data)
		}
		if err := env.Ack(ctx); err != nil {
			t.Fatalf("subscription %s: ack: %v", name, err)
		}
	}
}

func testTopicIsolation(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	subOne := mustCreate(t, conn, "sub-iso-1", "topic-iso-1")
	subTwo := mustCreate(t, conn, "sub-iso-2", "topic-iso-2")

	if err := conn.Publish(ctx, "topic-iso-1", []byte("one")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env := pullOne(t, subOne, true)
	if string(env.Data) != "one" {
		t.Fatalf("unexpected payload: %s", env.Data)
	}
	if err := env.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	other, err := subTwo.Pull(ctx, false)
	if err != nil {
		t.Fatalf("pull other topic: %v", err)
	}
	if other != nil {
		t.Fatalf("subscription on other topic received %s", other.Data)
	}
}

func testDeleteSubscription(t *testing.T, factory Factory) {
	tr := factory(t)
	conn := authorize(t, tr)
	defer conn.Close()
	ctx := context.Background()

	mustCreate(t, conn, "sub-del", "topic-del")

	if err := conn.DeleteSubscription(ctx, "sub-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := conn.LookupSubscription(ctx, "sub-del"); err == nil {
		t.Fatal("expected lookup to fail after delete")
	}

	// The name is free again.
	mustCreate(t, conn, "sub-del", "topic-del")

	// Deleting a missing subscription is a no-op.
	if err := conn.DeleteSubscription(ctx, "sub-del-missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func pullOne(t *testing.T, sub transport.Subscription, wait bool) *transport.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env, err := sub.Pull(ctx, wait)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if env == nil {
		t.Fatal("expected an envelope, pull returned nothing")
	}
	return env
}

package pubsession_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmona/pubsession"
	"github.com/jmona/pubsession/transport/memory"
	"github.com/jmona/pubsession/transport/transporttest"
)

// End-to-end over the in-process transport: the full initialize, send,
// receive, close cycle a client would run.
func TestSessionOverMemoryTransport(t *testing.T) {
	ctx := context.Background()
	tr := memory.New(memory.Config{PullBlock: 2 * time.Second})

	credPath := filepath.Join(t.TempDir(), "account.json")
	if err := os.WriteFile(credPath, transporttest.NewAccountJSON(t), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	sess := pubsession.New("worker-1", tr)
	ready, err := sess.InitializeFromFile(ctx, credPath, "test-project", "jobs")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !ready {
		t.Fatal("expected session to be ready")
	}

	sent, err := sess.Send(ctx, &pubsession.Message{Data: []byte(`{"job":"resize"}`)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent == nil || sent.ID == "" {
		t.Fatalf("expected echoed message with assigned ID, got %+v", sent)
	}

	got, err := sess.Receive(ctx, true)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got == nil {
		t.Fatal("expected the published message back")
	}
	if got.ID != sent.ID {
		t.Fatalf("expected message %s, got %s", sent.ID, got.ID)
	}
	if string(got.Data) != `{"job":"resize"}` {
		t.Fatalf("unexpected payload: %s", got.Data)
	}

	if err := sess.Close(ctx, true); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sess.Ready() {
		t.Fatal("session must not be ready after close")
	}
}

// A second session with the same identity must reattach to the subscription
// the first one created and drain its backlog.
func TestSessionReattachesAfterRestart(t *testing.T) {
	ctx := context.Background()
	tr := memory.New(memory.Config{PullBlock: 2 * time.Second})
	raw := transporttest.NewAccountJSON(t)

	first := pubsession.New("worker-2", tr)
	if _, err := first.Initialize(ctx, raw, "test-project", "jobs"); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if _, err := first.Send(ctx, &pubsession.Message{ID: "backlog-1", Data: []byte(`"pending"`)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Release the connection but keep the subscription alive.
	if err := first.Close(ctx, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := pubsession.New("worker-2", tr)
	ready, err := second.Initialize(ctx, raw, "test-project", "jobs")
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if !ready {
		t.Fatal("expected reattached session to be ready")
	}
	defer second.Close(ctx, true)

	got, err := second.Receive(ctx, true)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got == nil || got.ID != "backlog-1" {
		t.Fatalf("expected backlog message, got %+v", got)
	}
}

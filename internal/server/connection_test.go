package server

import (
	"net"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tcaine/gumshoe/internal/protocol"
)

func testPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	return serverSide, clientSide
}

func TestEnqueueDeliversInOrder(t *testing.T) {
	p := newTestPeer(t)

	sent := []*protocol.Info{
		{Text: "first"},
		{Text: "second"},
		{Text: "third"},
	}
	for _, m := range sent {
		if err := p.conn.Enqueue(m); err != nil {
			t.Fatalf("enqueue failed: %s", err)
		}
	}

	for _, want := range sent {
		got := p.next()
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame mismatch (-want +got):\n%s", diff)
		}
	}
}

// A frame larger than any single pipe write still arrives whole: the writer
// keeps resubmitting the unsent remainder.
func TestTransmitLargeFrame(t *testing.T) {
	p := newTestPeer(t)

	big := &protocol.Info{Text: strings.Repeat("x", 64*1024)}
	if err := p.conn.Enqueue(big); err != nil {
		t.Fatalf("enqueue failed: %s", err)
	}

	got := p.nextOfKind(protocol.InfoKind).(*protocol.Info)
	if got.Text != big.Text {
		t.Errorf("large frame arrived mangled: %d bytes, expected %d", len(got.Text), len(big.Text))
	}
}

func TestDefaultDisplayName(t *testing.T) {
	p := newTestPeer(t)
	if !strings.HasPrefix(p.conn.DisplayName(), "sleuth-") {
		t.Errorf("unexpected default display name %q", p.conn.DisplayName())
	}
}

func TestCloseRunsHookOnce(t *testing.T) {
	serverSide, clientSide := testPipe(t)

	var hookCalls int32
	conn := NewConnection(serverSide, 0, testLogger(), func(*Connection) {
		atomic.AddInt32(&hookCalls, 1)
	})
	_ = clientSide

	conn.Close("first")
	conn.Close("second")
	conn.Close("third")

	if n := atomic.LoadInt32(&hookCalls); n != 1 {
		t.Errorf("close hook ran %d times, expected exactly 1", n)
	}
	if !conn.Closed() {
		t.Error("connection does not report closed")
	}
}

func TestEnqueueAfterCloseDropsSilently(t *testing.T) {
	p := newTestPeer(t)
	p.conn.Close("test")

	if err := p.conn.Enqueue(&protocol.Info{Text: "too late"}); err != nil {
		t.Errorf("enqueue after close should drop, not error: %s", err)
	}
}

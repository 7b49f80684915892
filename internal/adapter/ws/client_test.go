package ws

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestShutdownSendStopsWritePump(t *testing.T) {
	c := &client{id: "c1", send: make(chan []byte, 4)}

	done := make(chan struct{})
	go func() {
		c.writePump(slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()

	c.shutdownSend()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writePump still running after send channel shutdown")
	}

	if c.enqueue([]byte(`{}`)) {
		t.Error("enqueue accepted a frame after shutdown")
	}
	// Neither of these may panic on the closed channel.
	c.reply("ping", nil)
	c.shutdownSend()
}

func TestEnqueueDropsWhenBufferFull(t *testing.T) {
	c := &client{id: "c1", send: make(chan []byte, 1)}
	if !c.enqueue([]byte(`a`)) {
		t.Fatal("first frame should fit the buffer")
	}
	if c.enqueue([]byte(`b`)) {
		t.Error("second frame should be dropped, not block")
	}
}

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	closed bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- binaryFrame([]byte("RIFF....WAVE"))
	priority <- textFrame([]byte(`{"type":"ERROR","message":"unavailable"}`))
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d: %+v", len(writes), writes)
	}
	if !strings.Contains(writes[0].data, `"type":"ERROR"`) {
		t.Fatalf("first write was not ERROR: %q", writes[0].data)
	}
	if writes[1].messageType != websocket.BinaryMessage {
		t.Fatalf("second write type=%d, want BinaryMessage", writes[1].messageType)
	}
}

func TestOutboundWriter_NormalFramesKeepOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 4)

	normal <- binaryFrame([]byte{1})
	normal <- binaryFrame([]byte{2})
	normal <- textFrame([]byte(`{"type":"AI_TURN_COMPLETE"}`))
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(writes))
	}
	if writes[0].data != "\x01" || writes[1].data != "\x02" || writes[2].messageType != websocket.TextMessage {
		t.Fatalf("unexpected order: %+v", writes)
	}
}

func TestOutboundWriter_FlushesPriorityOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	priority <- textFrame([]byte(`{"type":"ERROR","message":"Please wait"}`))

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
		closeFrame: func() []byte {
			return websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Rate limit")
		},
	}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected error and close frame, writes=%+v", writes)
	}
	if !strings.Contains(writes[0].data, `"type":"ERROR"`) {
		t.Fatalf("expected ERROR to flush on shutdown, writes=%+v", writes)
	}
	if writes[1].messageType != websocket.CloseMessage || !strings.Contains(writes[1].data, "Rate limit") {
		t.Fatalf("unexpected close frame: %+v", writes[1])
	}
	if !ws.closed {
		t.Fatalf("socket not closed")
	}
}

func TestOutboundWriter_DefaultCloseIsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: make(chan outboundFrame),
		normal:   make(chan outboundFrame),
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	writes := ws.snapshot()
	want := string(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if len(writes) != 1 || writes[0].data != want {
		t.Fatalf("writes=%+v", writes)
	}
}

func TestOutboundWriter_SendsPings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: 10 * time.Millisecond, WriteTimeout: time.Second},
		priority: make(chan outboundFrame),
		normal:   make(chan outboundFrame),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run() }()

	waitFor(t, "ping", func() bool {
		for _, wr := range ws.snapshot() {
			if wr.messageType == websocket.PingMessage {
				return true
			}
		}
		return false
	})
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestOutboundWriter_SkipsEmptyFrames(t *testing.T) {
	normal := make(chan outboundFrame, 2)
	normal <- binaryFrame(nil)
	normal <- textFrame([]byte(`{"type":"AI_TURN_COMPLETE"}`))
	close(normal)
	priority := make(chan outboundFrame)
	close(priority)

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, cfg: Config{PingInterval: time.Hour}, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if writes := ws.snapshot(); len(writes) != 1 || writes[0].messageType != websocket.TextMessage {
		t.Fatalf("writes=%+v", writes)
	}
}

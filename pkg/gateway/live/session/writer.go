package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// Bounds on priority frames flushed while shutting down.
	shutdownFlushFrames  = 8
	shutdownFlushTimeout = 100 * time.Millisecond
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	messageType int
	data        []byte
}

func textFrame(data []byte) outboundFrame {
	return outboundFrame{messageType: websocket.TextMessage, data: data}
}

func binaryFrame(data []byte) outboundFrame {
	return outboundFrame{messageType: websocket.BinaryMessage, data: data}
}

// outboundWriter owns every write to the client socket. Pending priority
// frames (errors, warnings) always go out before the next normal frame.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
	// closeFrame returns the close payload written on shutdown.
	closeFrame func() []byte
}

// Run writes frames until ctx is done or both queues are closed. On ctx done
// it flushes pending priority frames, sends the close frame and closes the
// socket.
func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}
	timeout := w.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	interval := w.cfg.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	var done <-chan struct{}
	if w.ctx != nil {
		done = w.ctx.Done()
	}

	for w.priority != nil || w.normal != nil {
		select {
		case <-done:
			w.shutdown(timeout)
			return nil
		default:
		}
		if err := w.flushPriority(timeout, -1); err != nil {
			return err
		}

		select {
		case <-done:
			w.shutdown(timeout)
			return nil
		case <-ping.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, timeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			if err := w.flushPriority(timeout, -1); err != nil {
				return err
			}
			if err := w.write(frame, timeout); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushPriority writes queued priority frames without blocking. limit < 0
// means no limit.
func (w *outboundWriter) flushPriority(timeout time.Duration, limit int) error {
	for n := 0; w.priority != nil && (limit < 0 || n < limit); n++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				return nil
			}
			if err := w.write(frame, timeout); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (w *outboundWriter) shutdown(timeout time.Duration) {
	flushTimeout := shutdownFlushTimeout
	if timeout < flushTimeout {
		flushTimeout = timeout
	}
	_ = w.flushPriority(flushTimeout, shutdownFlushFrames)

	payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if w.closeFrame != nil {
		if p := w.closeFrame(); len(p) > 0 {
			payload = p
		}
	}
	_ = w.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(timeout))
	_ = w.ws.Close()
}

func (w *outboundWriter) write(frame outboundFrame, timeout time.Duration) error {
	if len(frame.data) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(frame.messageType, frame.data)
}

package live

import (
	"context"
	"time"
)

type outboundWriter struct {
	conn         Conn
	ctx          context.Context
	priority     <-chan ClientMessage
	audio        <-chan ClientMessage
	pingInterval time.Duration
	writeTimeout time.Duration

	// handshake is written before anything queued; onHandshake runs once it
	// has been sent.
	handshake   *ClientMessage
	onHandshake func()
}

// Run writes queued messages until ctx is canceled or a send fails.
// Priority messages (instruction, text turns) always go before queued audio.
func (w *outboundWriter) Run() error {
	if w == nil || w.conn == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pinger, _ := w.conn.(Pinger)

	if w.handshake != nil {
		if err := w.conn.Send(*w.handshake); err != nil {
			return err
		}
		if w.onHandshake != nil {
			w.onHandshake()
		}
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushOnShutdown(writeTimeout)
			return nil
		default:
		}

		select {
		case msg := <-w.priority:
			if err := w.conn.Send(msg); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-w.ctx.Done():
			w.flushOnShutdown(writeTimeout)
			return nil
		case <-pingTicker.C:
			if pinger != nil {
				if err := pinger.Ping(time.Now().Add(writeTimeout)); err != nil {
					return err
				}
			}
		case msg := <-w.priority:
			if err := w.conn.Send(msg); err != nil {
				return err
			}
		case msg := <-w.audio:
			if err := w.conn.Send(msg); err != nil {
				return err
			}
		}
	}
}

// flushOnShutdown gives already-queued messages a brief chance to go out
// before the connection closes: text turns first, then the audio lane, which
// ends with the stream-end marker when EndAudio preceded Close.
func (w *outboundWriter) flushOnShutdown(writeTimeout time.Duration) {
	flushTimeout := 200 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)

	for _, lane := range []<-chan ClientMessage{w.priority, w.audio} {
		for time.Now().Before(deadline) {
			select {
			case msg := <-lane:
				if err := w.conn.Send(msg); err != nil {
					return
				}
				continue
			default:
			}
			break
		}
	}
}

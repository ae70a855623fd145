// Package sse writes server-sent events.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Writer frames events onto a streaming response. Each event carries an
// increasing id. Safe for concurrent use.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu  sync.Mutex
	seq uint64
}

// New prepares w for an event stream. Headers are sent with the first write.
func New(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: f}, nil
}

// Send writes one event with data encoded as JSON.
func (sw *Writer) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.seq++

	var b bytes.Buffer
	b.WriteString("id: ")
	b.WriteString(strconv.FormatUint(sw.seq, 10))
	b.WriteString("\nevent: ")
	b.WriteString(event)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return sw.flushLocked(b.Bytes())
}

// Retry tells the browser how long to wait before reconnecting.
func (sw *Writer) Retry(d time.Duration) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.flushLocked([]byte("retry: " + strconv.FormatInt(d.Milliseconds(), 10) + "\n\n"))
}

// Ping writes a comment line so intermediaries keep the stream open.
func (sw *Writer) Ping() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.flushLocked([]byte(": ping\n\n"))
}

func (sw *Writer) flushLocked(p []byte) error {
	if _, err := sw.w.Write(p); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

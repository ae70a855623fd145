package fallback

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// Source produces finalized utterances until ctx is canceled or the
// underlying recognizer stops. The returned channel is closed when the
// source is done.
type Source interface {
	Utterances(ctx context.Context) (<-chan string, error)
}

// LineSource treats every line read from R as one utterance. R is read by a
// single goroutine for the life of the source, so successive calls can share
// a reader such as stdin that cannot be interrupted.
type LineSource struct {
	R      io.Reader
	Logger *slog.Logger

	once  sync.Once
	lines chan string
}

func (s *LineSource) read() {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.lines = make(chan string)
	go func() {
		defer close(s.lines)
		sc := bufio.NewScanner(s.R)
		for sc.Scan() {
			s.lines <- sc.Text()
		}
		if err := sc.Err(); err != nil {
			logger.Warn("line source read failed", "err", err)
		}
	}()
}

func (s *LineSource) Utterances(ctx context.Context) (<-chan string, error) {
	s.once.Do(s.read)
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case line, ok := <-s.lines:
				if !ok {
					return
				}
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-coach/pkg/core"
)

const (
	DefaultCartesiaURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion      = "2025-04-16"
	defaultCartesiaModel = "ink-whisper"
	defaultSTTSampleRate = 16000
	captureChunkBytes    = 4096
)

// CartesiaSource streams microphone audio captured outside the browser to
// Cartesia's streaming STT and emits the final segments.
type CartesiaSource struct {
	APIKey     string
	URL        string
	Model      string
	Language   string
	SampleRate int
	// Capture opens the PCM stream. Defaults to FFmpegCapture.
	Capture func(ctx context.Context, sampleRate int) (io.ReadCloser, error)
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

type cartesiaMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

func (s *CartesiaSource) Utterances(ctx context.Context) (<-chan string, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, core.NewAuthenticationError("cartesia api key is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rate := s.SampleRate
	if rate <= 0 {
		rate = defaultSTTSampleRate
	}

	conn, err := s.dial(ctx, rate)
	if err != nil {
		return nil, err
	}

	capture := s.Capture
	if capture == nil {
		capture = FFmpegCapture
	}
	ctx, cancel := context.WithCancel(ctx)
	audio, err := capture(ctx, rate)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, err
	}

	st := &cartesiaStream{conn: conn, audio: audio, cancel: cancel, logger: logger}
	out := make(chan string, 16)
	go st.pump()
	go func() {
		<-ctx.Done()
		st.shutdown()
	}()
	go st.readLoop(ctx, out)
	return out, nil
}

func (s *CartesiaSource) dial(ctx context.Context, rate int) (*websocket.Conn, error) {
	raw := s.URL
	if raw == "" {
		raw = DefaultCartesiaURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, core.NewInvalidRequestErrorWithParam("invalid cartesia url", "url")
	}
	model := s.Model
	if model == "" {
		model = defaultCartesiaModel
	}
	lang := s.Language
	if lang == "" {
		lang = "fr"
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", rate))
	q.Set("min_volume", "0.01")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-API-Key", s.APIKey)
	header.Set("Cartesia-Version", cartesiaVersion)

	dialer := s.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, core.NewAuthenticationError(fmt.Sprintf("cartesia rejected credentials (status %d)", resp.StatusCode))
			}
			return nil, core.NewConnectionError(fmt.Sprintf("cartesia connect (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewConnectionError("cartesia connect", err)
	}
	return conn, nil
}

type cartesiaStream struct {
	conn   *websocket.Conn
	audio  io.ReadCloser
	cancel context.CancelFunc
	logger *slog.Logger

	writeMu  sync.Mutex
	stopOnce sync.Once
}

// pump forwards captured PCM until the capture ends, then asks the server
// to flush the remaining audio.
func (st *cartesiaStream) pump() {
	buf := make([]byte, captureChunkBytes)
	for {
		n, err := st.audio.Read(buf)
		if n > 0 {
			if werr := st.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			_ = st.write(websocket.TextMessage, []byte("finalize"))
			return
		}
		if err != nil {
			return
		}
	}
}

func (st *cartesiaStream) write(kind int, data []byte) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return st.conn.WriteMessage(kind, data)
}

func (st *cartesiaStream) readLoop(ctx context.Context, out chan<- string) {
	defer close(out)
	defer st.cancel()
	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st.logger.Warn("cartesia stream ended", "err", err)
			}
			return
		}
		var msg cartesiaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "transcript":
			text := strings.TrimSpace(msg.Text)
			if !msg.IsFinal || text == "" {
				continue
			}
			select {
			case out <- text:
			case <-ctx.Done():
				return
			}
		case "done":
			return
		case "error":
			st.logger.Warn("cartesia error", "err", msg.Error)
			return
		}
	}
}

func (st *cartesiaStream) shutdown() {
	st.stopOnce.Do(func() {
		st.writeMu.Lock()
		_ = st.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		st.writeMu.Unlock()
		_ = st.conn.Close()
		_ = st.audio.Close()
	})
}

package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-coach/pkg/core"
)

// DefaultLiveURL is the Gemini Live BidiGenerateContent endpoint.
const DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// WebSocketDialer speaks the live JSON protocol directly over a websocket.
// Dial sends the setup message and waits for setupComplete.
type WebSocketDialer struct {
	URL          string
	APIKey       string
	Model        string
	WriteTimeout time.Duration
	Header       http.Header
	Dialer       *websocket.Dialer
}

type wireSetupMessage struct {
	Setup wireSetup `json:"setup"`
}

type wireSetup struct {
	Model                   string               `json:"model"`
	GenerationConfig        wireGenerationConfig `json:"generationConfig"`
	InputAudioTranscription *struct{}            `json:"inputAudioTranscription,omitempty"`
}

type wireGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type wireRealtimeInputMessage struct {
	RealtimeInput wireRealtimeInput `json:"realtimeInput"`
}

type wireRealtimeInput struct {
	Audio          *wireBlob `json:"audio,omitempty"`
	AudioStreamEnd bool      `json:"audioStreamEnd,omitempty"`
}

type wireBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type wireClientContentMessage struct {
	ClientContent wireClientContent `json:"clientContent"`
}

type wireClientContent struct {
	Turns        []wireContent `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text,omitempty"`
}

type wireServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn          *wireContent `json:"modelTurn,omitempty"`
		TurnComplete       bool         `json:"turnComplete,omitempty"`
		InputTranscription *struct {
			Text string `json:"text"`
		} `json:"inputTranscription,omitempty"`
	} `json:"serverContent,omitempty"`
	GoAway *json.RawMessage `json:"goAway,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	if strings.TrimSpace(d.APIKey) == "" {
		return nil, core.NewAuthenticationError("live service API key is not configured")
	}
	if strings.TrimSpace(d.Model) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("live model is not configured", "model")
	}

	endpoint := d.URL
	if endpoint == "" {
		endpoint = DefaultLiveURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, core.NewInvalidRequestErrorWithParam("invalid live url", "url")
	}
	q := u.Query()
	q.Set("key", d.APIKey)
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := d.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, core.NewAuthenticationError(fmt.Sprintf("live service rejected credentials (status %d)", resp.StatusCode))
			}
			return nil, core.NewConnectionError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewConnectionError("websocket dial failed", err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &wsConn{conn: conn, writeTimeout: writeTimeout}

	setup := wireSetupMessage{Setup: wireSetup{
		Model:                   d.Model,
		GenerationConfig:        wireGenerationConfig{ResponseModalities: []string{"TEXT"}},
		InputAudioTranscription: &struct{}{},
	}}
	if err := c.writeJSON(setup); err != nil {
		_ = conn.Close()
		return nil, core.NewConnectionError("send live setup", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		msg, err := c.read()
		if err != nil {
			_ = conn.Close()
			return nil, core.NewConnectionError("read live setupComplete", err)
		}
		if msg.Error != nil {
			_ = conn.Close()
			return nil, &core.Error{
				Type:    core.ErrAPI,
				Message: strings.TrimSpace(msg.Error.Message),
				Code:    msg.Error.Status,
			}
		}
		if msg.SetupComplete != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(msg ClientMessage) error {
	switch msg.Kind {
	case ClientAudio:
		return c.writeJSON(wireRealtimeInputMessage{RealtimeInput: wireRealtimeInput{
			Audio: &wireBlob{
				Data:     base64.StdEncoding.EncodeToString(msg.Audio),
				MIMEType: msg.MIMEType,
			},
		}})
	case ClientAudioEnd:
		return c.writeJSON(wireRealtimeInputMessage{RealtimeInput: wireRealtimeInput{AudioStreamEnd: true}})
	case ClientText, ClientInstruction:
		return c.writeJSON(wireClientContentMessage{ClientContent: wireClientContent{
			Turns:        []wireContent{{Role: "user", Parts: []wirePart{{Text: msg.Text}}}},
			TurnComplete: msg.Kind == ClientText,
		}})
	default:
		return fmt.Errorf("unknown client message kind %d", msg.Kind)
	}
}

func (c *wsConn) Receive() (ServerMessage, error) {
	for {
		msg, err := c.read()
		if core.IsType(err, core.ErrMalformedOutput) {
			continue
		}
		if err != nil {
			return ServerMessage{}, err
		}
		if msg.Error != nil {
			return ServerMessage{}, core.NewAPIError(strings.TrimSpace(msg.Error.Message))
		}

		var out ServerMessage
		if sc := msg.ServerContent; sc != nil {
			if sc.InputTranscription != nil {
				out.Transcript = sc.InputTranscription.Text
			}
			if sc.ModelTurn != nil {
				var b strings.Builder
				for _, p := range sc.ModelTurn.Parts {
					b.WriteString(p.Text)
				}
				out.ModelText = b.String()
			}
			out.TurnComplete = sc.TurnComplete
		}
		out.GoAway = msg.GoAway != nil
		if out == (ServerMessage{}) {
			continue
		}
		return out, nil
	}
}

func (c *wsConn) Ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// read returns the next JSON message. The service sends JSON in both text and
// binary frames.
func (c *wsConn) read() (wireServerMessage, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return wireServerMessage{}, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		var msg wireServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return wireServerMessage{}, core.NewMalformedOutputError("undecodable live server message", err)
		}
		return msg, nil
	}
}

package live

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/vai-coach/pkg/core"
)

// GenAIDialer opens the live session through the genai SDK instead of the raw
// websocket protocol.
type GenAIDialer struct {
	APIKey string
	Model  string
}

func (d *GenAIDialer) Dial(ctx context.Context) (Conn, error) {
	if strings.TrimSpace(d.APIKey) == "" {
		return nil, core.NewAuthenticationError("live service API key is not configured")
	}
	model := strings.TrimPrefix(strings.TrimSpace(d.Model), "models/")
	if model == "" {
		return nil, core.NewInvalidRequestErrorWithParam("live model is not configured", "model")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConnectionError("create genai client", err)
	}

	session, err := client.Live.Connect(ctx, model, &genai.LiveConnectConfig{
		ResponseModalities:      []genai.Modality{genai.ModalityText},
		InputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, core.NewConnectionError("genai live connect", err)
	}

	// Receive has no context; run it aside so the handshake budget applies.
	setup := make(chan error, 1)
	go func() {
		for {
			msg, err := session.Receive()
			if err != nil {
				setup <- err
				return
			}
			if msg.SetupComplete != nil {
				setup <- nil
				return
			}
		}
	}()
	select {
	case err := <-setup:
		if err != nil {
			_ = session.Close()
			return nil, core.NewConnectionError("read genai setupComplete", err)
		}
	case <-ctx.Done():
		_ = session.Close()
		return nil, core.NewConnectionError("genai live setup timed out", ctx.Err())
	}

	return &genaiConn{session: session}, nil
}

type genaiConn struct {
	session   *genai.Session
	closeOnce sync.Once
	closeErr  error
}

func (c *genaiConn) Send(msg ClientMessage) error {
	switch msg.Kind {
	case ClientAudio:
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: msg.Audio, MIMEType: msg.MIMEType},
		})
	case ClientAudioEnd:
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
	case ClientText, ClientInstruction:
		return c.session.SendClientContent(genai.LiveClientContentInput{
			Turns:        []*genai.Content{genai.NewContentFromText(msg.Text, genai.RoleUser)},
			TurnComplete: genai.Ptr(msg.Kind == ClientText),
		})
	default:
		return core.NewInvalidRequestError("unknown client message kind")
	}
}

func (c *genaiConn) Receive() (ServerMessage, error) {
	for {
		msg, err := c.session.Receive()
		if err != nil {
			return ServerMessage{}, err
		}

		var out ServerMessage
		if sc := msg.ServerContent; sc != nil {
			if sc.InputTranscription != nil {
				out.Transcript = sc.InputTranscription.Text
			}
			if sc.ModelTurn != nil {
				var b strings.Builder
				for _, p := range sc.ModelTurn.Parts {
					if p != nil {
						b.WriteString(p.Text)
					}
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

func (c *genaiConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

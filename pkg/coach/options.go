package coach

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/audio"
	"github.com/vango-go/vai-coach/pkg/core/fallback"
	"github.com/vango-go/vai-coach/pkg/core/live"
	"github.com/vango-go/vai-coach/pkg/core/script"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// Recorder persists the report of a finished call.
type Recorder interface {
	Record(ctx context.Context, report types.CallReport) error
}

// Options configures a Session.
type Options struct {
	// Script defaults to script.Default().
	Script *script.Definition

	// Live configures the Manager created for each call. Live.Dialer is
	// required; Live.Instruction defaults to live.BuildInstruction(Script).
	Live live.Config

	// OpenDevice returns the capture device for a new call. When nil, or
	// when the device cannot be started, the call runs in fallback mode.
	OpenDevice func() (audio.Device, error)
	Framer     audio.FramerConfig

	// Fallback, when set, supplies transcribed speech while the call is in
	// fallback mode. Utterances pass through Filter before being sent.
	Fallback fallback.Source
	Filter   fallback.Filter

	TransitionCooldown time.Duration

	Recorder       Recorder
	RecordTimeout  time.Duration
	SubscriberSize int

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func(prefix string) string
}

func (o Options) withDefaults() Options {
	if o.Script == nil {
		o.Script = script.Default()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = core.NewID
	}
	if o.Live.Instruction == "" {
		o.Live.Instruction = live.BuildInstruction(o.Script)
	}
	if o.RecordTimeout <= 0 {
		o.RecordTimeout = 5 * time.Second
	}
	if o.SubscriberSize <= 0 {
		o.SubscriberSize = 32
	}
	return o
}

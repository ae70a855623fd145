package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vango-go/vai-coach/pkg/core"
)

const (
	DefaultFrameSamples = 4096
	DefaultVADThreshold = 0.01
)

// Frame is one fixed-size chunk of captured audio.
type Frame struct {
	PCM         []byte
	VoiceActive bool
	RMS         float64
	Seq         uint64
	SampleRate  int
}

// MIMEType returns the stream descriptor for the frame's sample rate.
func (f Frame) MIMEType() string { return MIMEType(f.SampleRate) }

// FramerConfig controls frame size and the local voice-activity heuristic.
type FramerConfig struct {
	FrameSamples int
	VADThreshold float64
	Logger       *slog.Logger
}

func (c FramerConfig) withDefaults() FramerConfig {
	if c.FrameSamples <= 0 {
		c.FrameSamples = DefaultFrameSamples
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Framer owns a capture device for the duration of one call. It accumulates
// device buffers and hands complete frames to a sink on the device thread.
// The sink must not block.
type Framer struct {
	cfg FramerConfig

	mu      sync.Mutex
	dev     Device
	sink    func(Frame)
	format  Format
	pending []byte
	seq     uint64
	started bool
	stopped bool

	releaseOnce sync.Once
	releaseErr  error
	errCh       chan error
}

func NewFramer(cfg FramerConfig) *Framer {
	return &Framer{
		cfg:   cfg.withDefaults(),
		errCh: make(chan error, 1),
	}
}

// Start acquires dev and begins framing. On failure the device is released and
// a device_error is returned; the caller is expected to switch to text input.
func (f *Framer) Start(dev Device, sink func(Frame)) error {
	if dev == nil || sink == nil {
		return core.NewInvalidRequestError("framer requires a device and a sink")
	}

	f.mu.Lock()
	if f.started || f.stopped {
		f.mu.Unlock()
		return core.NewInvalidStateError("framer already used")
	}
	f.started = true
	f.dev = dev
	f.sink = sink
	f.mu.Unlock()

	if err := dev.Start(f.onData, f.onStop); err != nil {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		_ = f.release()
		if core.IsType(err, core.ErrDevice) {
			return err
		}
		return core.NewDeviceError("start capture device", err)
	}

	f.mu.Lock()
	f.format = MonoPCM16(dev.SampleRate())
	f.mu.Unlock()

	f.cfg.Logger.Info("audio capture started",
		"sample_rate", dev.SampleRate(),
		"frame_samples", f.cfg.FrameSamples,
		"frame_ms", f.format.DurationMs(f.frameBytes()),
	)
	return nil
}

// Format returns the capture format. The sample rate is zero until Start succeeds.
func (f *Framer) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// Err delivers at most one asynchronous device failure.
func (f *Framer) Err() <-chan error { return f.errCh }

// Stop stops framing and releases the device. Safe to call more than once and
// from any goroutine other than the sink.
func (f *Framer) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.pending = nil
	f.mu.Unlock()
	return f.release()
}

func (f *Framer) frameBytes() int {
	return f.cfg.FrameSamples * 2
}

func (f *Framer) onData(pcm []byte) {
	frames := f.cut(pcm)
	for _, fr := range frames {
		if err := f.deliver(fr); err != nil {
			f.fail(err)
			return
		}
	}
}

func (f *Framer) cut(pcm []byte) []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}

	if f.format.SampleRate == 0 {
		// Data can arrive before Start has recorded the format.
		f.format = MonoPCM16(f.dev.SampleRate())
	}
	f.pending = append(f.pending, pcm...)
	size := f.frameBytes()
	var frames []Frame
	for len(f.pending) >= size {
		buf := make([]byte, size)
		copy(buf, f.pending[:size])
		f.pending = f.pending[size:]

		rms := CalculateRMSEnergy(buf)
		frames = append(frames, Frame{
			PCM:         buf,
			VoiceActive: rms > f.cfg.VADThreshold,
			RMS:         rms,
			Seq:         f.seq,
			SampleRate:  f.format.SampleRate,
		})
		f.seq++
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

func (f *Framer) deliver(fr Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewDeviceError("frame processing failed", fmt.Errorf("panic: %v", r))
		}
	}()
	f.sink(fr)
	return nil
}

func (f *Framer) onStop(err error) {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		return
	}
	if err == nil {
		err = fmt.Errorf("capture device stopped")
	}
	f.fail(core.NewDeviceError("capture device stopped unexpectedly", err))
}

// fail runs on the device thread, which cannot release its own device, so the
// release happens on another goroutine before the error is reported.
func (f *Framer) fail(err error) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.pending = nil
	f.mu.Unlock()

	f.cfg.Logger.Error("audio capture failed", "err", err)
	go func() {
		_ = f.release()
		select {
		case f.errCh <- err:
		default:
		}
	}()
}

func (f *Framer) release() error {
	f.releaseOnce.Do(func() {
		f.mu.Lock()
		dev := f.dev
		f.mu.Unlock()
		if dev == nil {
			return
		}
		if err := dev.Close(); err != nil {
			f.releaseErr = core.NewDeviceError("release capture device", err)
			f.cfg.Logger.Warn("audio device release failed", "err", err)
			return
		}
		f.cfg.Logger.Debug("audio device released")
	})
	return f.releaseErr
}

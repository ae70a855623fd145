package audio

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-coach/pkg/core"
)

// MalgoDevice captures from the system default input through miniaudio.
// A zero RequestedRate keeps the device's native rate; forcing a rate the
// hardware does not support fails on some platforms.
type MalgoDevice struct {
	RequestedRate int
	PeriodMs      int
	Logger        *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	rate    int
	closing bool
}

// NewMalgoDevice returns an unopened capture device. sampleRate 0 means native.
func NewMalgoDevice(sampleRate int, logger *slog.Logger) *MalgoDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoDevice{RequestedRate: sampleRate, PeriodMs: 20, Logger: logger}
}

func (d *MalgoDevice) Start(onData func(pcm []byte), onStop func(err error)) error {
	d.mu.Lock()
	if d.device != nil {
		d.mu.Unlock()
		return core.NewInvalidStateError("capture device already started")
	}

	ctxCfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	mctx, err := malgo.InitContext(nil, ctxCfg, func(msg string) {
		d.Logger.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		d.mu.Unlock()
		return core.NewDeviceError("initialize audio context", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(d.RequestedRate)
	if d.PeriodMs > 0 {
		cfg.PeriodSizeInMilliseconds = uint32(d.PeriodMs)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
		Stop: func() {
			d.mu.Lock()
			closing := d.closing
			d.mu.Unlock()
			if !closing && onStop != nil {
				onStop(errors.New("input device stopped"))
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		d.mu.Unlock()
		return core.NewDeviceError("open input device", err)
	}
	d.ctx = mctx
	d.device = dev
	d.rate = int(dev.SampleRate())
	d.mu.Unlock()

	// The data callback reads SampleRate, so the lock is not held here.
	if err := dev.Start(); err != nil {
		return core.NewDeviceError("start input device", err)
	}
	return nil
}

func (d *MalgoDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	d.closing = true
	dev, mctx := d.device, d.ctx
	d.device, d.ctx = nil, nil
	d.mu.Unlock()

	var err error
	if dev != nil {
		if dev.IsStarted() {
			err = dev.Stop()
		}
		dev.Uninit()
	}
	if mctx != nil {
		if uerr := mctx.Uninit(); uerr != nil && err == nil {
			err = uerr
		}
		mctx.Free()
	}
	return err
}

package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
)

type fakeDevice struct {
	rate     int
	startErr error

	mu     sync.Mutex
	onData func([]byte)
	onStop func(error)
	closes atomic.Int32
}

func (d *fakeDevice) Start(onData func([]byte), onStop func(error)) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.onData, d.onStop = onData, onStop
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) SampleRate() int { return d.rate }

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return nil
}

func (d *fakeDevice) emit(pcm []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	fn(pcm)
}

func (d *fakeDevice) stopUnexpectedly() {
	d.mu.Lock()
	fn := d.onStop
	d.mu.Unlock()
	fn(errors.New("unplugged"))
}

func constantPCM(samples int, amplitude float64) []byte {
	in := make([]float64, samples)
	for i := range in {
		in[i] = amplitude
	}
	return EncodePCM16(in)
}

func waitErr(t *testing.T, f *Framer) error {
	t.Helper()
	select {
	case err := <-f.Err():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for framer error")
		return nil
	}
}

func TestFramer_EmitsFixedSizeFrames(t *testing.T) {
	dev := &fakeDevice{rate: 48000}
	f := NewFramer(FramerConfig{FrameSamples: 4})

	var frames []Frame
	if err := f.Start(dev, func(fr Frame) { frames = append(frames, fr) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	// 3 + 7 samples: one frame after the second buffer, 2 samples left over.
	dev.emit(constantPCM(3, 0.5))
	if len(frames) != 0 {
		t.Fatalf("got %d frames before a full frame was buffered", len(frames))
	}
	dev.emit(constantPCM(7, 0.5))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, fr := range frames {
		if len(fr.PCM) != 8 {
			t.Fatalf("frame %d has %d bytes, want 8", i, len(fr.PCM))
		}
		if fr.Seq != uint64(i) {
			t.Fatalf("frame %d seq = %d", i, fr.Seq)
		}
		if fr.SampleRate != 48000 || fr.MIMEType() != "audio/pcm;rate=48000" {
			t.Fatalf("frame %d rate = %d mime = %q", i, fr.SampleRate, fr.MIMEType())
		}
	}
}

func TestFramer_VoiceActivityThreshold(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	f := NewFramer(FramerConfig{FrameSamples: 8, VADThreshold: 0.01})

	var frames []Frame
	if err := f.Start(dev, func(fr Frame) { frames = append(frames, fr) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	dev.emit(constantPCM(8, 0.001))
	dev.emit(constantPCM(8, 0.2))
	dev.emit(make([]byte, 16))

	want := []bool{false, true, false}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, w := range want {
		if frames[i].VoiceActive != w {
			t.Fatalf("frame %d VoiceActive = %v (rms %.4f), want %v", i, frames[i].VoiceActive, frames[i].RMS, w)
		}
	}
}

func TestFramer_StopReleasesOnce(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	f := NewFramer(FramerConfig{FrameSamples: 4})
	if err := f.Start(dev, func(Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := f.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if got := dev.closes.Load(); got != 1 {
		t.Fatalf("device closed %d times, want 1", got)
	}

	var delivered bool
	f.sink = func(Frame) { delivered = true }
	dev.emit(constantPCM(8, 0.5))
	if delivered {
		t.Fatalf("frames delivered after Stop")
	}
}

func TestFramer_StartFailureIsDeviceError(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("permission denied")}
	f := NewFramer(FramerConfig{})

	err := f.Start(dev, func(Frame) {})
	if !core.IsType(err, core.ErrDevice) {
		t.Fatalf("err = %v, want device_error", err)
	}
	if got := dev.closes.Load(); got != 1 {
		t.Fatalf("device closed %d times, want 1", got)
	}
	if err := f.Stop(); err != nil {
		t.Fatalf("Stop after failed start: %v", err)
	}
	if got := dev.closes.Load(); got != 1 {
		t.Fatalf("device closed %d times after Stop, want 1", got)
	}
}

func TestFramer_SinkPanicReleasesDevice(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	f := NewFramer(FramerConfig{FrameSamples: 4})
	if err := f.Start(dev, func(Frame) { panic("boom") }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev.emit(constantPCM(4, 0.5))

	err := waitErr(t, f)
	if !core.IsType(err, core.ErrDevice) {
		t.Fatalf("err = %v, want device_error", err)
	}
	_ = f.Stop()
	if got := dev.closes.Load(); got != 1 {
		t.Fatalf("device closed %d times, want 1", got)
	}
}

func TestFramer_UnexpectedDeviceStop(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	f := NewFramer(FramerConfig{FrameSamples: 4})
	if err := f.Start(dev, func(Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev.stopUnexpectedly()
	if err := waitErr(t, f); !core.IsType(err, core.ErrDevice) {
		t.Fatalf("err = %v, want device_error", err)
	}
	_ = f.Stop()
	if got := dev.closes.Load(); got != 1 {
		t.Fatalf("device closed %d times, want 1", got)
	}
}

func TestFramer_StartTwice(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	f := NewFramer(FramerConfig{})
	if err := f.Start(dev, func(Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()
	if err := f.Start(dev, func(Frame) {}); !core.IsType(err, core.ErrInvalidState) {
		t.Fatalf("second Start err = %v, want invalid_state", err)
	}
}

func TestRMSAndPeak(t *testing.T) {
	if got := CalculateRMSEnergy(nil); got != 0 {
		t.Fatalf("rms(nil) = %v", got)
	}
	pcm := constantPCM(10, 0.5)
	if got := CalculateRMSEnergy(pcm); got < 0.49 || got > 0.51 {
		t.Fatalf("rms = %v, want ~0.5", got)
	}
	if got := CalculatePeakAmplitude(EncodePCM16([]float64{0.1, -1, 0.3})); got < 0.99 {
		t.Fatalf("peak = %v, want ~1", got)
	}
}

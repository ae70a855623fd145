package fallback

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/vango-go/vai-coach/pkg/core"
)

// ffmpegCapture reads mono s16le PCM from the default input device through
// an ffmpeg subprocess.
type ffmpegCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// FFmpegCapture starts ffmpeg recording the default input at sampleRate.
// It is the default capture for CartesiaSource.
func FFmpegCapture(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, core.NewDeviceError("ffmpeg is required for fallback capture", err)
	}
	args, err := ffmpegArgs(runtime.GOOS, sampleRate)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, core.NewDeviceError("start ffmpeg capture", err)
	}
	return &ffmpegCapture{cmd: cmd, stdout: stdout}, nil
}

func ffmpegArgs(goos string, sampleRate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, core.NewDeviceError(fmt.Sprintf("fallback capture is not implemented for %s", goos), nil)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
		"-f", "s16le", "-",
	), nil
}

func (c *ffmpegCapture) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *ffmpegCapture) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

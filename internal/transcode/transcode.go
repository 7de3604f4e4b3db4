// Package transcode shells out to ffmpeg to convert audio into the
// ogg/opus container WhatsApp requires for voice messages.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

const opusMime = "audio/ogg; codecs=opus"

// FFmpeg transcodes audio via a local ffmpeg binary.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// New creates an FFmpeg transcoder. An empty binary defaults to "ffmpeg"
// resolved from PATH.
func New(log *slog.Logger, binary string) *FFmpeg {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		binary: binary,
		logger: log.With(slog.String("service", "transcode")),
	}
}

// ToOpus converts the input audio stream to ogg/opus. The whole output is
// buffered; voice notes are small.
func (f *FFmpeg) ToOpus(ctx context.Context, r io.Reader, mime string) (io.ReadCloser, string, error) {
	args := Args()
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stdin = r

	var out bytes.Buffer
	var errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		f.logger.Warn("transcode failed",
			slog.String("mime", mime),
			slog.String("stderr", tail(errOut.String(), 512)),
		)
		return nil, "", fmt.Errorf("ffmpeg: %w", err)
	}
	if out.Len() == 0 {
		return nil, "", fmt.Errorf("ffmpeg produced no output")
	}
	return io.NopCloser(bytes.NewReader(out.Bytes())), opusMime, nil
}

// Args returns the ffmpeg argument list for an opus voice-note conversion,
// reading from stdin and writing ogg to stdout.
func Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libopus",
		"-b:a", "32k",
		"-ar", "48000",
		"-ac", "1",
		"-f", "ogg",
		"pipe:1",
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

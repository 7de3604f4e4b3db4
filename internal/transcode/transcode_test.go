package transcode

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	t.Parallel()

	args := Args()
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i pipe:0")
	assert.Contains(t, joined, "-c:a libopus")
	assert.Contains(t, joined, "-ar 48000")
	assert.Contains(t, joined, "-ac 1")
	assert.Contains(t, joined, "-f ogg")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestNewDefaultsBinary(t *testing.T) {
	t.Parallel()

	f := New(nil, "  ")
	assert.Equal(t, "ffmpeg", f.binary)
}

func TestToOpusMissingBinary(t *testing.T) {
	t.Parallel()

	f := New(nil, "/nonexistent/ffmpeg-binary")
	_, _, err := f.ToOpus(context.Background(), strings.NewReader("not audio"), "audio/mpeg")
	require.Error(t, err)
}

package resolver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	id3v2 "github.com/bogem/id3v2/v2"
	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

const (
	DefaultBitrate = "192k"
	// maxNameBytes keeps generated names under common 255-byte limits.
	maxNameBytes = 200
)

// FFmpegTranscoder converts a remote stream to MP3 at a fixed bitrate. Every
// call writes to its own file, so concurrent calls do not collide. ffmpeg and
// the tagger work on the OS filesystem, so OutputDir is a real directory.
type FFmpegTranscoder struct {
	OutputDir string
	Bitrate   string
	Binary    string
	Logger    *zap.Logger
}

func NewFFmpegTranscoder(outputDir, bitrate, binary string, log *zap.Logger) *FFmpegTranscoder {
	if bitrate == "" {
		bitrate = DefaultBitrate
	}
	if binary == "" {
		binary = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FFmpegTranscoder{
		OutputDir: outputDir,
		Bitrate:   bitrate,
		Binary:    binary,
		Logger:    log.Named("transcode"),
	}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, sourceURL, title string) (string, error) {
	if err := os.MkdirAll(t.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out := t.outputPath(title)

	cmd := exec.CommandContext(ctx, t.Binary, t.args(sourceURL, out)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, tail(string(output), 400))
	}

	if err := tagTitle(out, title); err != nil {
		t.Logger.Warn("metadata tag embedding failed", zap.String("path", out), zap.Error(err))
	}
	return out, nil
}

// outputPath is <dir>/<sanitized-title>-<uuid>.mp3.
func (t *FFmpegTranscoder) outputPath(title string) string {
	name := truncateBytes(SanitizeFilename(title), maxNameBytes)
	return filepath.Join(t.OutputDir, fmt.Sprintf("%s-%s.mp3", name, uuid.NewString()))
}

func (t *FFmpegTranscoder) args(sourceURL, out string) []string {
	return ffmpeg.Input(sourceURL, ffmpeg.KwArgs{
		"reconnect":          "1",
		"reconnect_streamed": "1",
	}).
		Output(out, ffmpeg.KwArgs{
			"vn":     "",
			"acodec": "libmp3lame",
			"b:a":    t.Bitrate,
		}).
		OverWriteOutput().
		GetArgs()
}

func tagTitle(path, title string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()
	tag.SetTitle(title)
	return tag.Save()
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

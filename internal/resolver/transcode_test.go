package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	id3v2 "github.com/bogem/id3v2/v2"
)

func TestFFmpegTranscoder_Args(t *testing.T) {
	tc := NewFFmpegTranscoder("media", "", "", nil)
	args := strings.Join(tc.args("https://cdn/opus", "media/out.mp3"), " ")
	for _, want := range []string{"-i https://cdn/opus", "-acodec libmp3lame", "-b:a 192k", "-vn", "media/out.mp3", "-y"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in ffmpeg args: %s", want, args)
		}
	}
	if strings.Index(args, "-reconnect") > strings.Index(args, "-i ") {
		t.Fatalf("reconnect must be an input option: %s", args)
	}
}

func TestFFmpegTranscoder_UniqueOutputPaths(t *testing.T) {
	tc := NewFFmpegTranscoder("media", "128k", "ffmpeg", nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		p := tc.outputPath("Same: Title")
		if seen[p] {
			t.Fatalf("duplicate output path %s", p)
		}
		seen[p] = true
		base := filepath.Base(p)
		if !strings.HasPrefix(base, "Same_ Title-") || !strings.HasSuffix(base, ".mp3") {
			t.Fatalf("unexpected output name %s", base)
		}
	}
}

func TestFFmpegTranscoder_LongTitleFitsFilename(t *testing.T) {
	tc := NewFFmpegTranscoder("media", "", "", nil)
	base := filepath.Base(tc.outputPath(strings.Repeat("漢", 200)))
	if len(base) > 255 {
		t.Fatalf("file name too long: %d bytes", len(base))
	}
	if !utf8.ValidString(base) {
		t.Fatal("file name must stay valid UTF-8")
	}
}

func TestFFmpegTranscoder_FailureLeavesNoFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	tc := NewFFmpegTranscoder(dir, "", filepath.Join(t.TempDir(), "no-ffmpeg"), nil)

	if _, err := tc.Transcode(context.Background(), "https://cdn/opus", "song"); err == nil {
		t.Fatal("expected a missing ffmpeg binary to fail")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("output dir should be created on disk: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no partial output, found %d files", len(entries))
	}
}

func TestTagTitle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tagTitle(path, "My Song"); err != nil {
		t.Fatalf("tagTitle: %v", err)
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tag.Close()
	if tag.Title() != "My Song" {
		t.Fatalf("expected title tag, got %q", tag.Title())
	}
}

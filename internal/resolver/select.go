package resolver

import (
	"github.com/lvcoi/dgetmusic/internal/extractor"
)

// selectAudio picks the audio-only format with the highest bitrate. Without an
// audio-only format it falls back to the first format that has a URL, in
// backend order, and finally to the item's own URL.
func selectAudio(info *extractor.Info) (string, bool) {
	if info == nil {
		return "", false
	}
	var best *extractor.Format
	for i := range info.Formats {
		f := &info.Formats[i]
		if !isAudioOnly(f) {
			continue
		}
		if best == nil || bitrateOf(f) > bitrateOf(best) {
			best = f
		}
	}
	if best != nil {
		return best.URL, true
	}
	for _, f := range info.Formats {
		if f.URL != "" {
			return f.URL, true
		}
	}
	if info.URL != "" {
		return info.URL, true
	}
	return "", false
}

func isAudioOnly(f *extractor.Format) bool {
	if f.URL == "" {
		return false
	}
	if f.ACodec == "" || f.ACodec == "none" {
		return false
	}
	return f.VCodec == "" || f.VCodec == "none"
}

func bitrateOf(f *extractor.Format) float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}

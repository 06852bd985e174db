package media

import (
	"bytes"
	"strings"
)

// DefaultVideoSuffix is used when neither a hint nor the magic bytes say otherwise
const DefaultVideoSuffix = ".mp4"

var (
	magicFtyp = []byte("ftyp")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicRIFF = []byte("RIFF")
	magicAVI  = []byte("AVI ")
)

// SniffSuffix picks a filename suffix from container magic numbers.
// Decoders are often suffix sensitive, so the temp file carries this suffix.
func SniffSuffix(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[4:8], magicFtyp):
		// ISO-BMFF; QuickTime files carry ftyp too and open fine as .mp4
		return ".mp4"
	case len(data) >= 4 && bytes.Equal(data[:4], magicEBML):
		return ".webm"
	case len(data) >= 12 && bytes.Equal(data[:4], magicRIFF) && bytes.Equal(data[8:12], magicAVI):
		return ".avi"
	default:
		return DefaultVideoSuffix
	}
}

// SuffixFromMime maps a data URI mime type to a container suffix
func SuffixFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "":
		return ""
	case strings.Contains(mime, "quicktime"):
		return ".mov"
	case strings.Contains(mime, "webm"):
		return ".webm"
	case strings.Contains(mime, "x-matroska"), strings.Contains(mime, "mkv"):
		return ".mkv"
	case strings.Contains(mime, "avi"):
		return ".avi"
	default:
		return DefaultVideoSuffix
	}
}

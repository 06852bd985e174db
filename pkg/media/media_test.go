package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/birdex-worker/pkg/types"
)

// createTestImage creates a gradient test image with a translucent alpha channel
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 100})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func TestOpenImagePNG(t *testing.T) {
	img, err := OpenImage(encode(t, createTestImage(64, 48), imaging.PNG))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		if nrgba.Pix[i] != 0xFF {
			t.Fatalf("pixel %d has alpha %d, want opaque", i/4, nrgba.Pix[i])
		}
	}
}

func TestOpenImageJPEG(t *testing.T) {
	img, err := OpenImage(encode(t, createTestImage(80, 60), imaging.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestOpenImageTruncatedJPEG(t *testing.T) {
	data := encode(t, createTestImage(640, 480), imaging.JPEG)

	for _, keep := range []int{99, 90, 66, 50} {
		truncated := data[:len(data)*keep/100]

		img, err := OpenImage(truncated)
		require.NoError(t, err, "kept %d%%", keep)
		assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds(), "kept %d%%", keep)
	}
}

func TestOpenImageTruncatedJPEGDanglingMarker(t *testing.T) {
	data := encode(t, createTestImage(640, 480), imaging.JPEG)
	truncated := append(append([]byte{}, data[:len(data)/2]...), 0xFF)

	img, err := OpenImage(truncated)
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
}

// withOrientation inserts an EXIF APP1 segment carrying the given
// orientation tag right after SOI
func withOrientation(jpegData []byte, orientation uint16) []byte {
	exif := []byte{
		0xFF, 0xE1, 0x00, 0x22, // APP1, length 34
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // big endian TIFF, IFD at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, // orientation, SHORT, count 1
		byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	out := append([]byte{}, jpegData[:2]...)
	out = append(out, exif...)
	return append(out, jpegData[2:]...)
}

func TestOpenImageAppliesEXIFOrientation(t *testing.T) {
	data := withOrientation(encode(t, createTestImage(80, 60), imaging.JPEG), 6)

	img, err := OpenImage(data)
	require.NoError(t, err)
	assert.Equal(t, 60, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())

	upright, err := OpenImage(withOrientation(encode(t, createTestImage(80, 60), imaging.JPEG), 1))
	require.NoError(t, err)
	assert.Equal(t, 80, upright.Bounds().Dx())
}

func TestOpenImageRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"png header only", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenImage(tt.data)
			var decodeErr *types.DecodeError
			require.True(t, errors.As(err, &decodeErr), "got %v", err)
			assert.Equal(t, "image", decodeErr.Kind)
		})
	}
}

func TestSniffSuffix(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"mp4", []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00"), ".mp4"},
		{"quicktime", []byte("\x00\x00\x00\x14ftypqt  \x00\x00\x00\x00"), ".mp4"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81}, ".webm"},
		{"avi", []byte("RIFF\x10\x00\x00\x00AVI LIST"), ".avi"},
		{"wav is not avi", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), ".mp4"},
		{"unknown", []byte("hello world!"), ".mp4"},
		{"short", []byte{0x1A}, ".mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffSuffix(tt.data))
		})
	}
}

func TestSuffixFromMime(t *testing.T) {
	assert.Equal(t, ".mov", SuffixFromMime("video/quicktime"))
	assert.Equal(t, ".webm", SuffixFromMime("video/webm"))
	assert.Equal(t, ".mkv", SuffixFromMime("video/x-matroska"))
	assert.Equal(t, ".mp4", SuffixFromMime("video/mp4"))
	assert.Equal(t, "", SuffixFromMime(""))
}

type fakeSource struct {
	closed int
}

func (f *fakeSource) FPS() float64               { return 30 }
func (f *fakeSource) Next() (image.Image, error) { return nil, io.EOF }
func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

func TestMaterializeVideoCleanup(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	var openedPath string

	m := NewMaterializer(dir, func(path string) (FrameSource, error) {
		openedPath = path
		return src, nil
	})

	h, err := m.MaterializeVideo([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x00}, "")
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(h.Path))
	assert.Equal(t, h.Path, openedPath)
	assert.FileExists(t, h.Path)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.NoFileExists(t, h.Path)
	assert.Equal(t, 1, src.closed)
}

func TestMaterializeVideoHintWins(t *testing.T) {
	m := NewMaterializer(t.TempDir(), func(string) (FrameSource, error) { return &fakeSource{}, nil })

	h, err := m.MaterializeVideo([]byte("\x00\x00\x00\x18ftypisom"), ".mov")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, ".mov", filepath.Ext(h.Path))
}

func TestMaterializeVideoOpenFailureRemovesFile(t *testing.T) {
	dir := t.TempDir()
	m := NewMaterializer(dir, func(string) (FrameSource, error) {
		return nil, errors.New("no decoder for container")
	})

	_, err := m.MaterializeVideo([]byte("not a video"), "")
	var decodeErr *types.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "video", decodeErr.Kind)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must not outlive a failed open")
}

func TestMaterializeVideoEmpty(t *testing.T) {
	m := NewMaterializer(t.TempDir(), func(string) (FrameSource, error) { return &fakeSource{}, nil })
	_, err := m.MaterializeVideo(nil, "")
	assert.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	raw := []byte("\xff\xd8\xff binary")
	b64 := base64.StdEncoding.EncodeToString(raw)

	t.Run("raw mode passes through", func(t *testing.T) {
		data, hint, params, err := DecodeEnvelope([]byte(`{"fileBase64":"x"}`), EnvelopeRaw)
		require.NoError(t, err)
		assert.Equal(t, `{"fileBase64":"x"}`, string(data))
		assert.Empty(t, hint)
		assert.Nil(t, params)
	})

	t.Run("auto passes binary through", func(t *testing.T) {
		data, _, params, err := DecodeEnvelope(raw, EnvelopeAuto)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
		assert.Nil(t, params)
	})

	t.Run("auto unwraps json with data uri", func(t *testing.T) {
		payload := []byte(` {"fileBase64":"data:video/quicktime;base64,` + b64[:4] + "\n" + b64[4:] + `","sampleFps":3,"stopOnFirstAbove":true}`)
		data, hint, params, err := DecodeEnvelope(payload, EnvelopeAuto)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
		assert.Equal(t, ".mov", hint)
		require.NotNil(t, params)
		assert.Equal(t, 3.0, params.TargetFPS)
		require.NotNil(t, params.StopOnFirst)
		assert.True(t, *params.StopOnFirst)
	})

	t.Run("json without overrides", func(t *testing.T) {
		_, hint, params, err := DecodeEnvelope([]byte(`{"fileBase64":"`+b64+`"}`), EnvelopeJSON)
		require.NoError(t, err)
		assert.Empty(t, hint)
		assert.Nil(t, params)
	})

	t.Run("json mode rejects binary", func(t *testing.T) {
		_, _, _, err := DecodeEnvelope(raw, EnvelopeJSON)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, _, _, err := DecodeEnvelope([]byte(`{"fileBase64":"!!!notbase64"}`), EnvelopeAuto)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, _, err := DecodeEnvelope([]byte(`{"sampleFps":2}`), EnvelopeAuto)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})
}

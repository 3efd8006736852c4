package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"strings"
	"testing"
)

func pngOf(t *testing.T, w, h int, noisy bool) *bytes.Buffer {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{uint8(x), uint8(y), 128, 255}
			if noisy {
				c = color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return &buf
}

func decodeDataURL(t *testing.T, ref string) image.Image {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(ref, prefix) {
		t.Fatalf("unexpected reference %.40q", ref)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, prefix))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("jpeg.Decode: %v", err)
	}
	return img
}

func TestProcessDownsizesKeepingAspect(t *testing.T) {
	ref, err := Process(pngOf(t, 1000, 400, false), Options{MaxDimension: 250})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	b := decodeDataURL(t, ref).Bounds()
	if b.Dx() != 250 || b.Dy() != 100 {
		t.Errorf("scaled to %dx%d, want 250x100", b.Dx(), b.Dy())
	}
}

func TestProcessKeepsSmallImages(t *testing.T) {
	ref, err := Process(pngOf(t, 40, 60, false), Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	b := decodeDataURL(t, ref).Bounds()
	if b.Dx() != 40 || b.Dy() != 60 {
		t.Errorf("small image resized to %dx%d", b.Dx(), b.Dy())
	}
}

func TestProcessRespectsByteLimit(t *testing.T) {
	_, err := Process(pngOf(t, 300, 300, true), Options{MaxBytes: 512})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	ref, err := Process(pngOf(t, 300, 300, true), Options{MaxBytes: 200 << 10})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if n := base64.StdEncoding.DecodedLen(len(ref)); n > 200<<10+64 {
		t.Errorf("encoded photo is %d bytes", n)
	}
}

func TestProcessRejectsGarbage(t *testing.T) {
	if _, err := Process(strings.NewReader("not an image"), Options{}); err == nil {
		t.Errorf("garbage decoded as an image")
	}
}

// pngDeclaring returns a tiny PNG whose header claims w x h pixels.
func pngDeclaring(t *testing.T, w, h uint32) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	raw := buf.Bytes()
	// Signature (8), IHDR length (4), type (4), then width and height.
	binary.BigEndian.PutUint32(raw[16:20], w)
	binary.BigEndian.PutUint32(raw[20:24], h)
	binary.BigEndian.PutUint32(raw[29:33], crc32.ChecksumIEEE(raw[12:29]))
	return bytes.NewBuffer(raw)
}

func TestProcessRejectsOversizedDimensions(t *testing.T) {
	upload := pngDeclaring(t, 16000, 16000)
	if upload.Len() > 1024 {
		t.Fatalf("upload is %d bytes, want a tiny file", upload.Len())
	}
	_, err := Process(upload, Options{})
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("Process error = %v, want ErrTooManyPixels", err)
	}
}

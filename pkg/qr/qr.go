// Package qr renders ticket tokens as QR code images and reads them back.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // scan uploads from phone cameras
	_ "image/png"
	"strconv"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	goqr "github.com/skip2/go-qrcode"
)

var (
	// ErrEmptyPayload is returned when asked to encode an empty string.
	ErrEmptyPayload = errors.New("qr: empty payload")
	// ErrEncode wraps failures from the QR library.
	ErrEncode = errors.New("qr: encode failed")
	// ErrNoCode is returned when an image contains no readable QR code.
	ErrNoCode = errors.New("qr: no code found")
)

// Options controls rendering.
type Options struct {
	Size       int
	Recovery   string
	Foreground string
	Background string
}

// Encoder renders payloads as PNG images.
type Encoder struct {
	size   int
	level  goqr.RecoveryLevel
	fg, bg color.Color
}

// NewEncoder builds an Encoder. Zero values fall back to 256px, medium recovery, black on white.
func NewEncoder(opts Options) (*Encoder, error) {
	e := &Encoder{size: opts.Size, level: goqr.Medium, fg: color.Black, bg: color.White}
	if e.size <= 0 {
		e.size = 256
	}
	if opts.Recovery != "" {
		lvl, err := parseRecovery(opts.Recovery)
		if err != nil {
			return nil, err
		}
		e.level = lvl
	}
	if opts.Foreground != "" {
		c, err := parseHexColor(opts.Foreground)
		if err != nil {
			return nil, err
		}
		e.fg = c
	}
	if opts.Background != "" {
		c, err := parseHexColor(opts.Background)
		if err != nil {
			return nil, err
		}
		e.bg = c
	}
	return e, nil
}

// PNG encodes payload as a PNG. The decoded text of the image is exactly payload.
func (e *Encoder) PNG(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	code, err := goqr.New(payload, e.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	code.ForegroundColor = e.fg
	code.BackgroundColor = e.bg
	png, err := code.PNG(e.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return png, nil
}

// Decode returns the text of the QR code in a PNG or JPEG image.
func Decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize image: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	res, err := zxqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return res.GetText(), nil
}

func parseRecovery(s string) (goqr.RecoveryLevel, error) {
	switch strings.ToLower(s) {
	case "low", "l":
		return goqr.Low, nil
	case "medium", "m":
		return goqr.Medium, nil
	case "high", "q":
		return goqr.High, nil
	case "highest", "h":
		return goqr.Highest, nil
	}
	return 0, fmt.Errorf("qr: unknown recovery level %q", s)
}

func parseHexColor(s string) (color.Color, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return nil, fmt.Errorf("qr: invalid colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("qr: invalid colour %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

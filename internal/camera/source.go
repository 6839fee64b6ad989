package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnect means the capture handle could not be opened.
	ErrConnect = errors.New("camera: connect failed")
	// ErrCapture means an open handle yielded no frame.
	ErrCapture = errors.New("camera: capture failed")
)

type SourceType string

const (
	SourceDevice SourceType = "device" // numeric index, e.g. "0"
	SourceStream SourceType = "stream" // rtsp:// or rtmp://
	SourceHTTP   SourceType = "http"   // http(s):// network camera
	SourceFile   SourceType = "file"   // local file path
)

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mkv": true, ".mov": true,
	".webm": true, ".flv": true, ".mjpeg": true, ".mjpg": true,
}

// DetectSourceType discriminates a source URI by prefix.
func DetectSourceType(source string) SourceType {
	s := strings.TrimSpace(source)
	if s != "" && isAllDigits(s) {
		return SourceDevice
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtmp://"):
		return SourceStream
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return SourceHTTP
	case strings.HasPrefix(lower, "file://"):
		return SourceFile
	}
	for ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return SourceFile
		}
	}
	// Bare paths without a known extension still open as files; ffmpeg will
	// reject them if they are not media.
	return SourceFile
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Source is a live capture handle. Capture blocks until the next frame is
// available or the context expires.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
	Close() error
}

// OpenOptions carries the target geometry applied to the underlying capture.
type OpenOptions struct {
	CameraID  string
	Width     int
	Height    int
	FrameRate int
}

// Open builds the capture backend for a source URI.
func Open(ctx context.Context, source string, opts OpenOptions) (Source, error) {
	switch DetectSourceType(source) {
	case SourceHTTP:
		return openMJPEG(ctx, source, opts)
	case SourceDevice, SourceStream, SourceFile:
		return openFFmpeg(ctx, source, opts)
	default:
		return nil, fmt.Errorf("%w: unsupported source %q", ErrConnect, source)
	}
}

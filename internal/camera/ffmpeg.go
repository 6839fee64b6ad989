package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// ffmpegSource shells out to ffmpeg and reads an MJPEG stream from its
// stdout. One process per camera; killing the process closes the handle.
type ffmpegSource struct {
	cameraID string
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	reader   *bufio.Reader

	mu       sync.Mutex
	closed   bool
	frameNum int64
}

func ffmpegArgs(source string, opts OpenOptions) []string {
	var args []string
	switch DetectSourceType(source) {
	case SourceDevice:
		args = append(args, "-f", "v4l2", "-i", "/dev/video"+source)
	case SourceStream:
		args = append(args, "-rtsp_transport", "tcp", "-i", source)
	default:
		args = append(args, "-re", "-i", strings.TrimPrefix(source, "file://"))
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height))
	}
	if opts.FrameRate > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", opts.FrameRate))
	}
	args = append(args, "-f", "mjpeg", "-q:v", "5", "-")
	return args
}

func openFFmpeg(ctx context.Context, source string, opts OpenOptions) (Source, error) {
	cmd := exec.Command("ffmpeg", ffmpegArgs(source, opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg start: %v", ErrConnect, err)
	}

	return &ffmpegSource{
		cameraID: opts.CameraID,
		cmd:      cmd,
		stdout:   stdout,
		reader:   bufio.NewReaderSize(stdout, 256*1024),
	}, nil
}

func (s *ffmpegSource) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCapture
	}
	s.mu.Unlock()

	raw, err := readJPEGFrame(s.reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCapture, err)
	}

	s.mu.Lock()
	s.frameNum++
	n := s.frameNum
	s.mu.Unlock()

	return NewFrame(s.cameraID, n, img, raw), nil
}

func (s *ffmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}

// readJPEGFrame scans the stream for a SOI..EOI delimited JPEG.
func readJPEGFrame(r *bufio.Reader) ([]byte, error) {
	// Seek SOI (0xFFD8).
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	buf := bytes.NewBuffer([]byte{0xFF, 0xD8})
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
	}
}

package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mjpegSource reads a multipart/x-mixed-replace MJPEG stream from a network
// camera over HTTP. Part boundaries come from the Content-Type header.
type mjpegSource struct {
	cameraID string
	resp     *http.Response
	parts    *multipart.Reader
	reader   *bufio.Reader // fallback for servers that skip multipart framing

	mu       sync.Mutex
	closed   bool
	frameNum int64
}

func openMJPEG(ctx context.Context, source string, opts OpenOptions) (Source, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	client := &http.Client{Timeout: 0} // streaming body, per-capture deadline instead
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := client.Do(req.WithContext(context.WithoutCancel(dialCtx)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrConnect, resp.StatusCode)
	}

	s := &mjpegSource{cameraID: opts.CameraID, resp: resp}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		s.parts = multipart.NewReader(resp.Body, params["boundary"])
	} else {
		s.reader = bufio.NewReaderSize(resp.Body, 256*1024)
	}
	return s, nil
}

func (s *mjpegSource) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCapture
	}
	s.mu.Unlock()

	var raw []byte
	var err error
	if s.parts != nil {
		raw, err = s.nextPart()
	} else {
		raw, err = readJPEGFrame(s.reader)
	}
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

func (s *mjpegSource) nextPart() ([]byte, error) {
	part, err := s.parts.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(part); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *mjpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.resp.Body.Close()
}

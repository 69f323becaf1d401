// Package source reads frames from a camera feed. Two shapes are supported:
// an MJPEG-over-HTTP stream and a directory of JPEG frames replayed in name
// order (the loopable sample feed used for local testing).
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrEndOfStream signals that the feed reached its end and may be replayed
// with Reset. It is a loop-back condition, not a failure.
var ErrEndOfStream = errors.New("end of stream")

// Frame is one decoded image with its read position and wall time.
type Frame struct {
	Index int
	Time  time.Time
	Image image.Image
}

type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
	Reset() error
	Close() error
}

// Open builds a FrameSource for the camera's source URL. http(s) URLs are
// treated as MJPEG streams, anything else as a frame directory. An error here
// means the source cannot be opened at all.
func Open(url string) (FrameSource, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		s := &mjpegSource{url: url, client: &http.Client{}}
		if err := s.connect(); err != nil {
			return nil, fmt.Errorf("open stream %s: %w", url, err)
		}
		return s, nil
	}
	return openDir(url)
}

type dirSource struct {
	files []string
	idx   int
}

func openDir(dir string) (*dirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open frame dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("open frame dir %s: no jpeg frames", dir)
	}
	sort.Strings(files)
	return &dirSource{files: files}, nil
}

func (s *dirSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.idx >= len(s.files) {
		return Frame{}, ErrEndOfStream
	}
	f, err := os.Open(s.files[s.idx])
	if err != nil {
		return Frame{}, fmt.Errorf("read frame %s: %w", s.files[s.idx], err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame %s: %w", s.files[s.idx], err)
	}
	fr := Frame{Index: s.idx, Time: time.Now(), Image: img}
	s.idx++
	return fr, nil
}

func (s *dirSource) Reset() error {
	s.idx = 0
	return nil
}

func (s *dirSource) Close() error { return nil }

type mjpegSource struct {
	url    string
	client *http.Client
	resp   *http.Response
	parts  *multipart.Reader
	idx    int
}

func (s *mjpegSource) connect() error {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return fmt.Errorf("not an mjpeg stream: %q", resp.Header.Get("Content-Type"))
	}
	s.resp = resp
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

func (s *mjpegSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.parts == nil {
		return Frame{}, ErrEndOfStream
	}
	part, err := s.parts.NextPart()
	if err != nil {
		// the server closed the stream; the pipeline reconnects via Reset
		if errors.Is(err, io.EOF) {
			return Frame{}, ErrEndOfStream
		}
		return Frame{}, fmt.Errorf("read mjpeg part: %w", err)
	}
	defer part.Close()
	img, err := jpeg.Decode(part)
	if err != nil {
		return Frame{}, fmt.Errorf("decode mjpeg frame: %w", err)
	}
	fr := Frame{Index: s.idx, Time: time.Now(), Image: img}
	s.idx++
	return fr, nil
}

func (s *mjpegSource) Reset() error {
	s.closeResp()
	return s.connect()
}

func (s *mjpegSource) Close() error {
	s.closeResp()
	return nil
}

func (s *mjpegSource) closeResp() {
	if s.resp != nil {
		s.resp.Body.Close()
		s.resp = nil
		s.parts = nil
	}
}

// Package streamproxy relays media bytes from a CDN that requires the
// animefire Referer and a browser user agent.
package streamproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alvarorichard/goanime-server/internal/metrics"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"
)

const (
	DefaultReferer     = "https://animefire.plus/"
	DefaultChunkSize   = 8192
	DefaultContentType = "video/mp4"
	DefaultIdleTimeout = 30 * time.Second
)

var (
	ErrInvalidURL = errors.New("invalid video URL")

	// ErrIdleTimeout ends a relay whose upstream stopped sending body bytes.
	ErrIdleTimeout = errors.New("upstream idle timeout")
)

// UpstreamError reports a media request that failed before any byte was
// relayed. StatusCode is zero for transport failures.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// passHeaders are copied from the upstream response so range requests and
// seeking keep working through the relay.
var passHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"}

// Options configures a Proxy. IdleTimeout bounds each wait for the next body
// chunk once the response headers are in.
type Options struct {
	Client      *http.Client
	Referer     string
	UserAgent   string
	ChunkSize   int
	IdleTimeout time.Duration
	Metrics     *metrics.Registry
}

type Proxy struct {
	client      *http.Client
	referer     string
	userAgent   string
	chunkSize   int
	idleTimeout time.Duration
	metrics     *metrics.Registry
}

func New(opts Options) *Proxy {
	p := &Proxy{
		client:      opts.Client,
		referer:     opts.Referer,
		userAgent:   opts.UserAgent,
		chunkSize:   opts.ChunkSize,
		idleTimeout: opts.IdleTimeout,
		metrics:     opts.Metrics,
	}
	if p.client == nil {
		p.client = util.NewStreamingClient(0, 0)
	}
	if p.referer == "" {
		p.referer = DefaultReferer
	}
	if p.userAgent == "" {
		p.userAgent = util.UserAgent
	}
	if p.chunkSize <= 0 {
		p.chunkSize = DefaultChunkSize
	}
	if p.idleTimeout <= 0 {
		p.idleTimeout = DefaultIdleTimeout
	}
	return p
}

// Stream is an open upstream response. The caller must Close it.
type Stream struct {
	StatusCode  int
	ContentType string
	Header      http.Header

	body      io.ReadCloser
	chunkSize int
	metrics   *metrics.Registry
	closeOnce sync.Once

	// idle cancels the upstream request when it fires; it only runs while a
	// body read is pending.
	idle        *time.Timer
	idleTimeout time.Duration
	stalled     atomic.Bool
	cancel      context.CancelFunc
}

// Open issues the upstream GET. rangeHeader is forwarded verbatim when set.
func (p *Proxy) Open(ctx context.Context, mediaURL, rangeHeader string) (*Stream, error) {
	if !isHTTPOrHTTPS(mediaURL) {
		return nil, errors.Wrapf(ErrInvalidURL, "%q", mediaURL)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(ErrInvalidURL, err.Error())
	}
	req.Header.Set("Referer", p.referer)
	req.Header.Set("User-Agent", p.userAgent)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		p.countFailure("transport")
		return nil, &UpstreamError{URL: mediaURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		cancel()
		p.countFailure("status")
		return nil, &UpstreamError{URL: mediaURL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	header := make(http.Header)
	for _, h := range passHeaders {
		if v := resp.Header.Get(h); v != "" {
			header.Set(h, v)
		}
	}

	if p.metrics != nil {
		p.metrics.ActiveStreams.Inc()
	}
	util.Debug("Upstream stream opened", "url", mediaURL, "status", resp.StatusCode, "range", rangeHeader)
	s := &Stream{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Header:      header,
		body:        resp.Body,
		chunkSize:   p.chunkSize,
		metrics:     p.metrics,
		idleTimeout: p.idleTimeout,
		cancel:      cancel,
	}
	s.idle = time.AfterFunc(p.idleTimeout, func() {
		s.stalled.Store(true)
		cancel()
	})
	s.idle.Stop()
	return s, nil
}

// WriteTo copies the body to w chunk by chunk, flushing after each write when
// w supports it. It stops at the first read or write error and closes the
// upstream body either way. A read that waits longer than the idle timeout
// fails with ErrIdleTimeout.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	defer s.Close()

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, s.chunkSize)
	var written int64
	for {
		n, readErr := s.read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if s.metrics != nil {
				s.metrics.StreamBytes.Add(float64(m))
			}
			if writeErr != nil {
				return written, writeErr
			}
			if m < n {
				return written, io.ErrShortWrite
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// read waits for the next chunk with the idle timer armed. The timer is
// stopped while the chunk is written so a slow client never counts as an
// idle upstream.
func (s *Stream) read(buf []byte) (int, error) {
	s.idle.Reset(s.idleTimeout)
	n, err := s.body.Read(buf)
	s.idle.Stop()
	if err != nil && err != io.EOF && s.stalled.Load() {
		if s.metrics != nil {
			s.metrics.UpstreamFailures.WithLabelValues("idle").Inc()
		}
		return n, errors.Wrapf(ErrIdleTimeout, "no data for %s", s.idleTimeout)
	}
	return n, err
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.idle.Stop()
		s.cancel()
		err = s.body.Close()
		if s.metrics != nil {
			s.metrics.ActiveStreams.Dec()
		}
	})
	return err
}

func (p *Proxy) countFailure(reason string) {
	if p.metrics != nil {
		p.metrics.UpstreamFailures.WithLabelValues(reason).Inc()
	}
}

func isHTTPOrHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

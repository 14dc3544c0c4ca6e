// Package resolver extracts the direct media URL of an episode by driving the
// episode page's video player in a disposable headless browser session.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"
)

// Stage names the step of a resolution that failed.
type Stage string

const (
	StageLaunch     Stage = "launch"
	StageNavigate   Stage = "navigate"
	StagePlayButton Stage = "play-button"
	StageClick      Stage = "click"
	StageSettle     Stage = "settle"
	StageVideo      Stage = "video"
	StageSource     Stage = "source"
	StageInternal   Stage = "internal"
)

var (
	// ErrElementNotFound is returned when an expected element is not attached
	// to the DOM within its wait bound.
	ErrElementNotFound = errors.New("element not found")
	ErrEmptySource     = errors.New("video element has no source")
	ErrBrowserLaunch   = errors.New("browser launch failed")
	ErrPanic           = errors.New("browser session panicked")
)

// Error is the failure result of a resolution.
type Error struct {
	Stage Stage
	URL   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve %s: %s: %v", e.URL, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Browser hands out isolated sessions. Each session owns its own browser
// process and must be closed by the caller.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one headless browser with a single page.
type Session interface {
	Open(url string, timeout time.Duration) error
	// WaitAttached polls until selector is present in the DOM or timeout
	// elapses, in which case the error wraps ErrElementNotFound.
	WaitAttached(selector string, timeout time.Duration) error
	// ClickDOM calls element.click() inside the page instead of simulating a
	// pointer event, so overlays cannot swallow the click.
	ClickDOM(selector string) error
	Attribute(selector, name string) (string, error)
	// Close is idempotent and safe to call from another goroutine.
	Close() error
}

// Options holds the selectors and wait bounds of a resolution.
type Options struct {
	PlayButtonSelector string
	VideoSelector      string
	NavigationTimeout  time.Duration
	PlayButtonTimeout  time.Duration
	VideoTimeout       time.Duration
	SettleDelay        time.Duration
}

// DefaultOptions matches the video.js player used by animefire.plus.
func DefaultOptions() Options {
	return Options{
		PlayButtonSelector: ".vjs-big-play-button",
		VideoSelector:      "#my-video_html5_api",
		NavigationTimeout:  30 * time.Second,
		PlayButtonTimeout:  15 * time.Second,
		VideoTimeout:       10 * time.Second,
		SettleDelay:        2 * time.Second,
	}
}

// Resolver performs one browser-driven resolution per call, without retries.
type Resolver struct {
	browser Browser
	opts    Options
}

// New returns a Resolver. Zero fields in opts take their DefaultOptions value.
func New(browser Browser, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.PlayButtonSelector == "" {
		opts.PlayButtonSelector = def.PlayButtonSelector
	}
	if opts.VideoSelector == "" {
		opts.VideoSelector = def.VideoSelector
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.PlayButtonTimeout <= 0 {
		opts.PlayButtonTimeout = def.PlayButtonTimeout
	}
	if opts.VideoTimeout <= 0 {
		opts.VideoTimeout = def.VideoTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Resolver{browser: browser, opts: opts}
}

// Resolve returns the src of the episode's video element. Every failure,
// including a panic inside the browser driver, comes back as an *Error; the
// session is closed on every path before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, episodeURL string) (link string, err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			link, err = "", &Error{Stage: StageInternal, URL: episodeURL, Err: errors.Wrapf(ErrPanic, "%v", rec)}
		}
		if err != nil {
			util.Error("Failed to extract player link", "url", episodeURL, "err", err, "elapsed", time.Since(start).Round(time.Millisecond))
			return
		}
		util.Info("Player link extracted", "url", episodeURL, "elapsed", time.Since(start).Round(time.Millisecond))
	}()

	util.Debug("Launching browser session", "url", episodeURL)
	session, err := r.browser.NewSession(ctx)
	if err != nil {
		return "", &Error{Stage: StageLaunch, URL: episodeURL, Err: err}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			util.Warn("Failed to close browser session", "url", episodeURL, "err", closeErr)
		}
	}()

	// A cancelled caller tears the browser down, which unblocks any wait in progress.
	stop := context.AfterFunc(ctx, func() { _ = session.Close() })
	defer stop()

	fail := func(stage Stage, err error) (string, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrap(ctxErr, err.Error())
		}
		return "", &Error{Stage: stage, URL: episodeURL, Err: err}
	}

	if err := session.Open(episodeURL, r.opts.NavigationTimeout); err != nil {
		return fail(StageNavigate, err)
	}
	if err := session.WaitAttached(r.opts.PlayButtonSelector, r.opts.PlayButtonTimeout); err != nil {
		return fail(StagePlayButton, err)
	}
	if err := session.ClickDOM(r.opts.PlayButtonSelector); err != nil {
		return fail(StageClick, err)
	}
	if err := sleep(ctx, r.opts.SettleDelay); err != nil {
		return fail(StageSettle, err)
	}
	if err := session.WaitAttached(r.opts.VideoSelector, r.opts.VideoTimeout); err != nil {
		return fail(StageVideo, err)
	}

	src, err := session.Attribute(r.opts.VideoSelector, "src")
	if err != nil {
		return fail(StageSource, err)
	}
	if src == "" {
		return fail(StageSource, ErrEmptySource)
	}
	return src, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

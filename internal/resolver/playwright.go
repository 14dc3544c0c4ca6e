package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
)

// readProperty prefers the DOM property (an absolute URL for src) and falls
// back to the raw attribute.
const readProperty = `(el, name) => {
	const v = el[name];
	if (typeof v === "string" && v !== "") return v;
	return el.getAttribute(name) || "";
}`

// LaunchOptions configures the Chromium instances started per session.
type LaunchOptions struct {
	UserAgent      string
	ExecutablePath string
	Headless       bool
}

// PlaywrightBrowser runs one playwright driver for the process and launches a
// fresh Chromium for every session.
type PlaywrightBrowser struct {
	pw        *playwright.Playwright
	launch    playwright.BrowserTypeLaunchOptions
	userAgent string
}

// InstallDriver downloads the playwright driver and Chromium if missing.
func InstallDriver() error {
	util.Info("Installing playwright driver and chromium")
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return errors.Wrap(err, "install playwright")
	}
	return nil
}

// StartPlaywright starts the playwright driver.
func StartPlaywright(opts LaunchOptions) (*PlaywrightBrowser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, errors.Wrap(err, "start playwright")
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless:        playwright.Bool(opts.Headless),
		ChromiumSandbox: playwright.Bool(false),
		Args: []string{
			"--no-sandbox",
			"--disable-gpu",
			"--enable-unsafe-swiftshader",
			"--log-level=3",
		},
	}
	if opts.ExecutablePath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecutablePath)
	}

	return &PlaywrightBrowser{pw: pw, launch: launch, userAgent: opts.UserAgent}, nil
}

// NewSession implements Browser.
func (b *PlaywrightBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := b.pw.Chromium.Launch(b.launch)
	if err != nil {
		return nil, errors.Wrap(ErrBrowserLaunch, err.Error())
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if b.userAgent != "" {
		contextOpts.UserAgent = playwright.String(b.userAgent)
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		return nil, errors.Wrap(ErrBrowserLaunch, err.Error())
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = browser.Close()
		return nil, errors.Wrap(ErrBrowserLaunch, err.Error())
	}

	return &playwrightSession{browser: browser, page: page}, nil
}

// Close stops the driver. Sessions still open are torn down with it.
func (b *PlaywrightBrowser) Close() error {
	return b.pw.Stop()
}

type playwrightSession struct {
	browser playwright.Browser
	page    playwright.Page

	closeOnce sync.Once
	closeErr  error
}

func (s *playwrightSession) Open(url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return errors.Wrap(err, "navigate")
	}
	return nil
}

func (s *playwrightSession) WaitAttached(selector string, timeout time.Duration) error {
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if errors.Is(err, playwright.ErrTimeout) {
		return errors.Wrapf(ErrElementNotFound, "%s not present after %s", selector, timeout)
	}
	return err
}

func (s *playwrightSession) ClickDOM(selector string) error {
	_, err := s.page.Locator(selector).First().Evaluate("el => el.click()", nil)
	return err
}

func (s *playwrightSession) Attribute(selector, name string) (string, error) {
	v, err := s.page.Locator(selector).First().Evaluate(readProperty, name)
	if err != nil {
		return "", err
	}
	str, _ := v.(string)
	return str, nil
}

func (s *playwrightSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.browser.Close()
	})
	return s.closeErr
}

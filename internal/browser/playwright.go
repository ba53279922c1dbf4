package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
	DefaultTimeout        = 30 * time.Second
)

// Runtime owns the playwright driver process shared by every launcher.
type Runtime struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	install bool
}

// NewRuntime creates a runtime. When install is set, browsers are
// downloaded on first use.
func NewRuntime(install bool) *Runtime {
	return &Runtime{install: install}
}

// Playwright starts the driver process once and returns it.
func (r *Runtime) Playwright() (*playwright.Playwright, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw != nil {
		return r.pw, nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if r.install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	r.pw = pw
	return pw, nil
}

// Stop shuts the driver process down
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw == nil {
		return nil
	}
	err := r.pw.Stop()
	r.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// PlaywrightLauncher launches a local Chromium per session.
type PlaywrightLauncher struct {
	runtime  *Runtime
	headless bool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPlaywrightLauncher creates a launcher for local browsers
func NewPlaywrightLauncher(runtime *Runtime, headless bool, timeout time.Duration, logger *zap.Logger) *PlaywrightLauncher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PlaywrightLauncher{
		runtime:  runtime,
		headless: headless,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "playwright")),
	}
}

// Launch starts a browser, optionally egressing through opts.Proxy.
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := l.runtime.Playwright()
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.headless),
		Timeout:  playwright.Float(float64(l.timeout.Milliseconds())),
	}
	if opts.Proxy != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: "http://" + opts.Proxy}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d, err := newPlaywrightDriver(b, l.timeout, nil)
	if err != nil {
		b.Close()
		return nil, err
	}

	l.logger.Debug("browser launched",
		zap.String("session_id", opts.SessionID),
		zap.String("proxy", opts.Proxy))
	return d, nil
}

// Close stops the shared runtime
func (l *PlaywrightLauncher) Close() error {
	return l.runtime.Stop()
}

// playwrightDriver implements Driver over one browser context. Windows are
// the context's pages, addressed by generated handles.
type playwrightDriver struct {
	mu       sync.Mutex
	browser  playwright.Browser
	bctx     playwright.BrowserContext
	handles  map[playwright.Page]string
	pages    map[string]playwright.Page
	active   string
	timeout  time.Duration
	closed   bool
	onClose  func() error
	devtools string
}

func newPlaywrightDriver(b playwright.Browser, timeout time.Duration, onClose func() error) (*playwrightDriver, error) {
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	d := &playwrightDriver{
		browser: b,
		bctx:    bctx,
		handles: make(map[playwright.Page]string),
		pages:   make(map[string]playwright.Page),
		timeout: timeout,
		onClose: onClose,
	}
	d.active = d.register(page)
	return d, nil
}

// register assigns a handle to page. Callers hold d.mu or own d exclusively.
func (d *playwrightDriver) register(page playwright.Page) string {
	if handle, ok := d.handles[page]; ok {
		return handle
	}
	handle := uuid.New().String()
	d.handles[page] = handle
	d.pages[handle] = page
	return handle
}

func (d *playwrightDriver) page() (playwright.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	page, ok := d.pages[d.active]
	if !ok || page.IsClosed() {
		return nil, fmt.Errorf("active window %s is gone", d.active)
	}
	return page, nil
}

func (d *playwrightDriver) timeoutMs() *float64 {
	return playwright.Float(float64(d.timeout.Milliseconds()))
}

func (d *playwrightDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := d.page()
	if err != nil {
		return err
	}

	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   d.timeoutMs(),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Find(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := d.page()
	if err != nil {
		return nil, err
	}

	handles, err := page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}

	elements := make([]Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, &playwrightElement{handle: h})
	}
	return elements, nil
}

func (d *playwrightDriver) Click(ctx context.Context, el Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pe, ok := el.(*playwrightElement)
	if !ok {
		return fmt.Errorf("element %T does not belong to this driver", el)
	}

	if err := pe.handle.Click(playwright.ElementHandleClickOptions{Timeout: d.timeoutMs()}); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !d.browser.IsConnected() {
		return "", ErrClosed
	}
	page, err := d.page()
	if err != nil {
		return "", err
	}

	// Evaluated rather than read from page.URL() so a hung renderer is noticed.
	href, err := page.Evaluate("() => location.href")
	if err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	s, _ := href.(string)
	return s, nil
}

func (d *playwrightDriver) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	page, err := d.page()
	if err != nil {
		return "", err
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return html, nil
}

func (d *playwrightDriver) WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) bool {
	return Poll(ctx, cond, timeout, PollInterval)
}

func (d *playwrightDriver) ExecuteScript(ctx context.Context, script string, arg interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := d.page()
	if err != nil {
		return nil, err
	}

	if pe, ok := arg.(*playwrightElement); ok {
		arg = pe.handle
	}

	var result interface{}
	if arg == nil {
		result, err = page.Evaluate(script)
	} else {
		result, err = page.Evaluate(script, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return result, nil
}

func (d *playwrightDriver) WindowHandles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	var handles []string
	for _, page := range d.bctx.Pages() {
		if page.IsClosed() {
			continue
		}
		handles = append(handles, d.register(page))
	}
	return handles, nil
}

func (d *playwrightDriver) CurrentWindow() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *playwrightDriver) SwitchWindow(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	page, ok := d.pages[handle]
	d.mu.Unlock()

	if !ok || page.IsClosed() {
		return fmt.Errorf("window %s not found", handle)
	}
	if err := page.BringToFront(); err != nil {
		return fmt.Errorf("failed to focus window: %w", err)
	}

	d.mu.Lock()
	d.active = handle
	d.mu.Unlock()
	return nil
}

func (d *playwrightDriver) CloseWindow(ctx context.Context, handle string) error {
	d.mu.Lock()
	page, ok := d.pages[handle]
	if ok {
		delete(d.pages, handle)
		delete(d.handles, page)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("window %s not found", handle)
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to close window: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var errs []error
	if err := d.bctx.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.onClose != nil {
		if err := d.onClose(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser: %v", errs)
	}
	return nil
}

func (d *playwrightDriver) DevtoolsURL() string {
	return d.devtools
}

type playwrightElement struct {
	handle playwright.ElementHandle
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	return e.handle.InnerText()
}

func (e *playwrightElement) Visible(ctx context.Context) (bool, error) {
	return e.handle.IsVisible()
}

func (e *playwrightElement) Enabled(ctx context.Context) (bool, error) {
	return e.handle.IsEnabled()
}

func (e *playwrightElement) Attached(ctx context.Context) (bool, error) {
	connected, err := e.handle.Evaluate("el => el.isConnected")
	if err != nil {
		return false, err
	}
	b, _ := connected.(bool)
	return b, nil
}

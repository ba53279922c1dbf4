// Package browsertest provides a scripted in-memory browser.Driver.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shehryarbajwa/serpwatch/internal/browser"
)

// Operation names accepted by Driver.Fail.
const (
	OpNavigate = "navigate"
	OpFind     = "find"
	OpClick    = "click"
	OpURL      = "url"
	OpContent  = "content"
	OpScript   = "script"
	OpHandles  = "handles"
	OpSwitch   = "switch"
)

// Page is one scripted document.
type Page struct {
	URL      string
	HTML     string
	Elements map[string][]*Element
}

// NewPage creates an empty page at url
func NewPage(url string) *Page {
	return &Page{URL: url, Elements: make(map[string][]*Element)}
}

// Add registers elements under selector and returns the page.
func (p *Page) Add(selector string, els ...*Element) *Page {
	p.Elements[selector] = append(p.Elements[selector], els...)
	return p
}

// WithHTML sets the page content
func (p *Page) WithHTML(html string) *Page {
	p.HTML = html
	return p
}

// Element is a scripted node. Clicking it navigates the current window to
// Href, or opens Href in a new window when its target is "_blank".
type Element struct {
	Text     string
	Href     string
	Target   string
	Hidden   bool
	Disabled bool

	// Inert elements accept clicks without doing anything.
	Inert bool
	// ClickErr fails native clicks; script clicks still work unless
	// ScriptErr is also set.
	ClickErr  error
	ScriptErr error
	// Kills makes a click terminate the whole session.
	Kills bool

	Clicks int
}

// Link is a convenience constructor for a clickable result.
func Link(text, href string) *Element {
	return &Element{Text: text, Href: href}
}

type window struct {
	handle string
	page   *Page
	gen    int
}

type elementRef struct {
	el  *Element
	win *window
	gen int
	drv *Driver
}

// Driver is a browser.Driver over scripted pages.
type Driver struct {
	mu      sync.Mutex
	pages   map[string]*Page
	windows []*window
	active  *window
	seq     int
	closed  bool
	dead    bool
	fail    map[string]error

	// Poll is the interval WaitUntil uses.
	Poll time.Duration
	// Devtools is reported by DevtoolsURL.
	Devtools string

	Navigations []string
	Scripts     []string
	CloseCalls  int
}

// New creates a driver with one blank window.
func New(pages ...*Page) *Driver {
	d := &Driver{
		pages: make(map[string]*Page),
		fail:  make(map[string]error),
		Poll:  time.Millisecond,
	}
	for _, p := range pages {
		d.pages[p.URL] = p
	}
	d.active = d.openWindow(NewPage("about:blank"))
	return d
}

// DevtoolsURL returns the configured CDP endpoint
func (d *Driver) DevtoolsURL() string { return d.Devtools }

// AddPage registers a page that Navigate and clicks can reach.
func (d *Driver) AddPage(p *Page) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[p.URL] = p
	return d
}

// Fail makes every call of op return err. A nil err clears it.
func (d *Driver) Fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, op)
		return
	}
	d.fail[op] = err
}

// Kill simulates the browser process dying.
func (d *Driver) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
}

// Closed reports whether Close was called
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Windows returns the number of open windows
func (d *Driver) Windows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// CurrentPage returns the URL loaded in the active window
func (d *Driver) CurrentPage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active.page.URL
}

// openWindow appends a window. Callers hold d.mu or own d exclusively.
func (d *Driver) openWindow(p *Page) *window {
	d.seq++
	w := &window{handle: fmt.Sprintf("window-%d", d.seq), page: p}
	d.windows = append(d.windows, w)
	return w
}

// check returns the error a call of op should fail with. Callers hold d.mu.
func (d *Driver) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed || d.dead {
		return browser.ErrClosed
	}
	if d.active == nil {
		return errors.New("no active window")
	}
	return d.fail[op]
}

// load replaces the window's document. Callers hold d.mu.
func (d *Driver) load(w *window, url string) {
	p, ok := d.pages[url]
	if !ok {
		p = NewPage(url)
	}
	w.page = p
	w.gen++
	d.Navigations = append(d.Navigations, url)
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpNavigate); err != nil {
		return err
	}
	d.load(d.active, url)
	return nil
}

func (d *Driver) Find(ctx context.Context, selector string) ([]browser.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpFind); err != nil {
		return nil, err
	}

	var out []browser.Element
	for _, el := range d.active.page.Elements[selector] {
		out = append(out, &elementRef{el: el, win: d.active, gen: d.active.gen, drv: d})
	}
	return out, nil
}

func (d *Driver) Click(ctx context.Context, el browser.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpClick); err != nil {
		return err
	}
	ref, ok := el.(*elementRef)
	if !ok {
		return fmt.Errorf("foreign element %T", el)
	}
	if ref.el.ClickErr != nil {
		return ref.el.ClickErr
	}
	return d.activate(ref)
}

// activate performs the element's click behaviour. Callers hold d.mu.
func (d *Driver) activate(ref *elementRef) error {
	if ref.win.gen != ref.gen {
		return errors.New("stale element reference")
	}

	ref.el.Clicks++
	if ref.el.Kills {
		d.dead = true
		return browser.ErrClosed
	}
	if ref.el.Inert || ref.el.Href == "" {
		return nil
	}

	if ref.el.Target == "_blank" {
		w := d.openWindow(nil)
		d.load(w, ref.el.Href)
		return nil
	}
	d.load(ref.win, ref.el.Href)
	return nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpURL); err != nil {
		return "", err
	}
	return d.active.page.URL, nil
}

func (d *Driver) Content(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpContent); err != nil {
		return "", err
	}
	return d.active.page.HTML, nil
}

func (d *Driver) WaitUntil(ctx context.Context, cond browser.Condition, timeout time.Duration) bool {
	return browser.Poll(ctx, cond, timeout, d.Poll)
}

// ExecuteScript understands the two element scripts the engine sends:
// setting target="_blank" and a script click.
func (d *Driver) ExecuteScript(ctx context.Context, script string, arg interface{}) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpScript); err != nil {
		return nil, err
	}
	d.Scripts = append(d.Scripts, script)

	ref, ok := arg.(*elementRef)
	if !ok {
		return nil, nil
	}
	if ref.el.ScriptErr != nil {
		return nil, ref.el.ScriptErr
	}

	switch {
	case strings.Contains(script, "_blank"):
		ref.el.Target = "_blank"
		return nil, nil
	case strings.Contains(script, "click()"):
		return nil, d.activate(ref)
	}
	return nil, nil
}

func (d *Driver) WindowHandles(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(ctx, OpHandles); err != nil {
		return nil, err
	}
	handles := make([]string, len(d.windows))
	for i, w := range d.windows {
		handles[i] = w.handle
	}
	return handles, nil
}

func (d *Driver) CurrentWindow() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return ""
	}
	return d.active.handle
}

func (d *Driver) SwitchWindow(ctx context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed || d.dead {
		return browser.ErrClosed
	}
	if err := d.fail[OpSwitch]; err != nil {
		return err
	}
	for _, w := range d.windows {
		if w.handle == handle {
			d.active = w
			return nil
		}
	}
	return fmt.Errorf("window %s not found", handle)
}

func (d *Driver) CloseWindow(ctx context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.dead {
		return browser.ErrClosed
	}
	for i, w := range d.windows {
		if w.handle == handle {
			d.windows = append(d.windows[:i], d.windows[i+1:]...)
			if d.active == w {
				d.active = nil
			}
			return nil
		}
	}
	return fmt.Errorf("window %s not found", handle)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.CloseCalls++
	if d.closed {
		return browser.ErrClosed
	}
	d.closed = true
	return nil
}

func (r *elementRef) stale() bool {
	r.drv.mu.Lock()
	defer r.drv.mu.Unlock()
	return r.drv.closed || r.drv.dead || r.win.gen != r.gen
}

func (r *elementRef) Text(ctx context.Context) (string, error) {
	if r.stale() {
		return "", errors.New("stale element reference")
	}
	return r.el.Text, nil
}

func (r *elementRef) Visible(ctx context.Context) (bool, error) {
	if r.stale() {
		return false, errors.New("stale element reference")
	}
	return !r.el.Hidden, nil
}

func (r *elementRef) Enabled(ctx context.Context) (bool, error) {
	if r.stale() {
		return false, errors.New("stale element reference")
	}
	return !r.el.Disabled, nil
}

func (r *elementRef) Attached(ctx context.Context) (bool, error) {
	r.drv.mu.Lock()
	defer r.drv.mu.Unlock()
	if r.drv.closed || r.drv.dead {
		return false, browser.ErrClosed
	}
	return r.win.gen == r.gen, nil
}

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/browser/humanoid"
)

// objectGroup tags every remote object the handle creates so Release can
// drop them in one call.
const objectGroup = "wabridge"

// chromeHandle drives one Chrome tab through the DevTools protocol.
type chromeHandle struct {
	tabCtx context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	// pointer is nil when mouse movements go straight to their target.
	pointer *humanoid.Pointer

	mu     sync.Mutex
	closed bool
}

var _ Handle = (*chromeHandle)(nil)

// run executes actions on the tab, bounded by the caller's context.
func (h *chromeHandle) run(ctx context.Context, actions ...chromedp.Action) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := CombineContext(h.tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Report the caller's deadline rather than the derived cancel.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if h.tabCtx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return err
	}
	return nil
}

func (h *chromeHandle) URL(ctx context.Context) (string, error) {
	var location string
	if err := h.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (h *chromeHandle) Navigate(ctx context.Context, url string) error {
	h.logger.Debug("Navigating", zap.String("url", url))
	return h.run(ctx, chromedp.Navigate(url))
}

func (h *chromeHandle) FindAll(ctx context.Context, xpath string) ([]Element, error) {
	var out []Element
	err := h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		expr := fmt.Sprintf("(%s).call(document)", xpathSnapshotFn(xpath))
		obj, exc, err := runtime.Evaluate(expr).WithObjectGroup(objectGroup).Do(ctx)
		if err := scriptErr(exc, err); err != nil {
			return fmt.Errorf("xpath %s: %w", xpath, err)
		}
		out, err = h.unpack(ctx, obj)
		return err
	}))
	return out, err
}

func (h *chromeHandle) InsertText(ctx context.Context, text string) error {
	return h.run(ctx, input.InsertText(text))
}

func (h *chromeHandle) PressEnter(ctx context.Context) error {
	return h.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (h *chromeHandle) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: c.SameSite.String(),
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			cookie.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (h *chromeHandle) Release(ctx context.Context) error {
	return h.run(ctx, runtime.ReleaseObjectGroup(objectGroup))
}

// Close shuts the browser down. The allocator is always cancelled, even when
// the graceful close fails.
func (h *chromeHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	h.mu.Unlock()
	defer h.cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(h.tabCtx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close browser: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser did not close in time: %w", ctx.Err())
	}
}

// unpack turns a remote array of nodes into element references.
func (h *chromeHandle) unpack(ctx context.Context, array *runtime.RemoteObject) ([]Element, error) {
	if array == nil || array.ObjectID == "" {
		return nil, nil
	}
	var n int
	if err := callByValue(ctx, array.ObjectID, "function(){return this.length}", &n); err != nil {
		return nil, err
	}
	elements := make([]Element, 0, n)
	for i := 0; i < n; i++ {
		item, exc, err := runtime.CallFunctionOn(fmt.Sprintf("function(){return this[%d]}", i)).
			WithObjectID(array.ObjectID).
			WithObjectGroup(objectGroup).
			Do(ctx)
		if err := scriptErr(exc, err); err != nil {
			return nil, err
		}
		if item == nil || item.ObjectID == "" {
			continue
		}
		elements = append(elements, &chromeElement{h: h, id: item.ObjectID})
	}
	return elements, nil
}

// chromeElement is a remote object reference to a DOM node.
type chromeElement struct {
	h  *chromeHandle
	id runtime.RemoteObjectID
}

var _ Element = (*chromeElement)(nil)

func (e *chromeElement) FindAll(ctx context.Context, xpath string) ([]Element, error) {
	var out []Element
	err := e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := runtime.CallFunctionOn(xpathSnapshotFn(xpath)).
			WithObjectID(e.id).
			WithObjectGroup(objectGroup).
			Do(ctx)
		if err := scriptErr(exc, err); err != nil {
			return fmt.Errorf("xpath %s: %w", xpath, err)
		}
		out, err = e.h.unpack(ctx, obj)
		return err
	}))
	return out, err
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var value *string
	fn := fmt.Sprintf("function(){return this.getAttribute(%s)}", jsString(name))
	err := e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callByValue(ctx, e.id, fn, &value)
	}))
	if err != nil || value == nil {
		return "", false, err
	}
	return *value, true, nil
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callByValue(ctx, e.id, "function(){return this.innerText||this.textContent||''}", &text)
	}))
	return text, err
}

func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	const fn = `function(){
		if (!this.isConnected) return false;
		var r = this.getBoundingClientRect();
		var s = window.getComputedStyle(this);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	}`
	var visible bool
	err := e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callByValue(ctx, e.id, fn, &visible)
	}))
	return visible, err
}

// rect is an element box in CSS pixels.
type rect struct {
	X, Y, Width, Height float64
	// PageX and PageY include the document scroll offset.
	PageX, PageY float64
}

func (e *chromeElement) box(ctx context.Context) (rect, error) {
	const fn = `function(){
		this.scrollIntoView({block: 'center', inline: 'center'});
		var r = this.getBoundingClientRect();
		return {X: r.left, Y: r.top, Width: r.width, Height: r.height,
			PageX: r.left + window.scrollX, PageY: r.top + window.scrollY};
	}`
	var r rect
	if err := callByValue(ctx, e.id, fn, &r); err != nil {
		return rect{}, err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return rect{}, errors.New("element has no layout box")
	}
	return r, nil
}

func (e *chromeElement) Hover(ctx context.Context) error {
	return e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, err := e.box(ctx)
		if err != nil {
			return err
		}
		return e.h.approach(ctx, e.h.aim(r), dispatchMove)
	}))
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, err := e.box(ctx)
		if err != nil {
			return err
		}
		at := e.h.aim(r)
		if err := e.h.approach(ctx, at, dispatchMove); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, at.X, at.Y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, at.X, at.Y).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	}))
}

// aim picks the point inside r the mouse goes for: the centre, or a
// humanized spot when the tab has a pointer.
func (h *chromeHandle) aim(r rect) humanoid.Vector2D {
	box := humanoid.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
	if h.pointer == nil {
		return box.Center()
	}
	return h.pointer.TargetPoint(box)
}

// approach brings the mouse to at in one move, or along a simulated hand
// trajectory when the tab has a pointer.
func (h *chromeHandle) approach(ctx context.Context, at humanoid.Vector2D, move humanoid.Dispatcher) error {
	if h.pointer == nil {
		return move(ctx, at)
	}
	return h.pointer.MoveTo(ctx, at, move)
}

func dispatchMove(ctx context.Context, at humanoid.Vector2D) error {
	return input.DispatchMouseEvent(input.MouseMoved, at.X, at.Y).Do(ctx)
}

func (e *chromeElement) Focus(ctx context.Context) error {
	return e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.Focus().WithObjectID(e.id).Do(ctx)
	}))
}

func (e *chromeElement) Screenshot(ctx context.Context) ([]byte, error) {
	var png []byte
	err := e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, err := e.box(ctx)
		if err != nil {
			return err
		}
		png, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{X: r.PageX, Y: r.PageY, Width: r.Width, Height: r.Height, Scale: 1}).
			Do(ctx)
		return err
	}))
	return png, err
}

func (e *chromeElement) SetFiles(ctx context.Context, paths []string) error {
	return e.h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.SetFileInputFiles(paths).WithObjectID(e.id).Do(ctx)
	}))
}

// xpathSnapshotFn returns a function that evaluates xpath with `this` as the
// context node and returns the matches as an array.
func xpathSnapshotFn(xpath string) string {
	return fmt.Sprintf(`function(){
		var r = document.evaluate(%s, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		var out = [];
		for (var i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
		return out;
	}`, jsString(xpath))
}

// callByValue calls fn on the object and decodes its JSON-serializable result.
func callByValue(ctx context.Context, id runtime.RemoteObjectID, fn string, out interface{}) error {
	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(id).
		WithReturnByValue(true).
		Do(ctx)
	if err := scriptErr(exc, err); err != nil {
		return err
	}
	if res == nil || len(res.Value) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(res.Value), out)
}

func scriptErr(exc *runtime.ExceptionDetails, err error) error {
	if err != nil {
		return err
	}
	if exc == nil {
		return nil
	}
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("script exception: %s", msg)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

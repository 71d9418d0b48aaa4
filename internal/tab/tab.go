// tab.go — The Tab façade (spec §4.3): combines one webview.Driver, one
// readiness.Detector, and the accessibility/interaction JS into the single
// execution context the router addresses by tabId. opMu enforces that
// single execution context at runtime: every method that touches driver
// (including the background work the driver's own events trigger) holds it
// for the call's duration, so a batch request's concurrent fan-out or two
// overlapping connections never run two WebView operations on one tab at
// once (spec §3 invariant 5) — they queue on opMu and run one at a time,
// in whatever order they arrive. This mirrors the teacher's
// single-goroutine-owns-a-resource pattern in internal/session (one
// capture session serializes all its writes), implemented here with a
// mutex instead of a worker goroutine since Tab's methods are synchronous
// request/response calls rather than a stream of queued writes.
package tab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/a11y"
	"github.com/brennhill/aslan-browser/internal/pagebridge"
	"github.com/brennhill/aslan-browser/internal/readiness"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/util"
	"github.com/brennhill/aslan-browser/internal/webview"
)

// learnScreenshotDelay is how long a tab waits for the page to settle before
// capturing the screenshot attached to a learn-mode action (spec §4.7).
const learnScreenshotDelay = 500 * time.Millisecond

// learnScreenshotQuality and learnScreenshotWidth bound the JPEG captured
// alongside each learn-mode action; smaller than a user-requested screenshot
// since these accumulate on disk for the whole recording.
const (
	learnScreenshotQuality = 60
	learnScreenshotWidth   = 1280
)

// State is the tab's navigation state machine (spec §4.3: "Idle →
// Navigating → {Loaded | Failed}").
type State int

const (
	StateIdle State = iota
	StateNavigating
	StateLoaded
	StateFailed
)

// Recorder receives learn-mode action events from a tab's bridge. A weak
// reference in spirit: the tab holds an interface, not a concrete *learn.Manager,
// so closing a tab never needs to reach into the recorder's internals
// (spec §3 Tab fields: "recorder reference (weak)").
type Recorder interface {
	RecordAction(tabID string, actionJSON json.RawMessage, screenshot []byte)
}

// Notifier receives engine-originated events a tab should broadcast to every
// connected client (spec §6.2: event.navigation, event.console, event.error).
type Notifier interface {
	NotifyNavigation(tabID, url, title string)
	NotifyConsole(tabID, level, message string)
	NotifyError(tabID, message string)
}

// Tab is one registry-owned WebView façade.
type Tab struct {
	ID string

	// opMu serializes every call into driver so that, regardless of how many
	// goroutines reach this Tab concurrently (a batch request's fan-out,
	// overlapping requests on one connection, or the driver's own
	// event-driven background work), at most one WebView operation is ever
	// in flight at a time (spec §3 invariant 5, §5 "No concurrent WebView
	// operation on the same tab"). mu below guards small state fields only
	// and is intentionally a separate, finer-grained lock.
	opMu sync.Mutex

	mu         sync.Mutex
	driver     webview.Driver
	detector   *readiness.Detector
	logger     *zap.Logger
	state      State
	isLoading  bool
	loadingURL string
	sessionID  string
	recorder   Recorder
	notifier   Notifier
	learning   bool
	learnJS    string
	navSeq     uint64
}

// New wraps driver in a Tab, wiring the driver's events into the readiness
// detector and the learn-mode recorder.
func New(id string, driver webview.Driver, logger *zap.Logger) *Tab {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tab{
		ID:       id,
		driver:   driver,
		detector: readiness.New(),
		logger:   logger,
		state:    StateIdle,
	}
	driver.OnEvent(t.handleDriverEvent)
	return t
}

func (t *Tab) handleDriverEvent(ev webview.Event) {
	switch ev.Kind {
	case webview.EventNavigationFinished:
		t.mu.Lock()
		t.state = StateLoaded
		t.isLoading = false
		learning := t.learning
		learnJS := t.learnJS
		t.mu.Unlock()
		t.notifyNavigation()
		if learning && learnJS != "" {
			// Navigation clears all page JS state, including the learn-mode
			// listeners; re-inject so recording survives the page change
			// (spec §4.7 "Re-injection").
			util.SafeGo(func() {
				t.opMu.Lock()
				defer t.opMu.Unlock()
				if err := t.driver.InjectScript(context.Background(), learnJS); err != nil {
					t.logger.Warn("failed to re-inject learn listeners after navigation", zap.Error(err))
				}
			})
		}
	case webview.EventNavigationFailed:
		t.mu.Lock()
		t.state = StateFailed
		t.isLoading = false
		t.mu.Unlock()
	case webview.EventLearnAction:
		t.DispatchBridgeMessage(pagebridge.Message{Type: pagebridge.MessageLearnAction, Action: json.RawMessage(ev.Message)})
		return
	case webview.EventConsole:
		t.mu.Lock()
		n := t.notifier
		t.mu.Unlock()
		if n != nil {
			n.NotifyConsole(t.ID, ev.Level, ev.Message)
		}
	case webview.EventPageError:
		t.mu.Lock()
		n := t.notifier
		t.mu.Unlock()
		if n != nil {
			n.NotifyError(t.ID, ev.Message)
		}
	}
	t.detector.HandleEvent(ev.Kind)
}

// notifyNavigation reads the post-navigation url/title off the UI context and
// reports it to the attached notifier, if any (spec §6.2 event.navigation).
func (t *Tab) notifyNavigation() {
	t.mu.Lock()
	n := t.notifier
	t.mu.Unlock()
	if n == nil {
		return
	}
	util.SafeGo(func() {
		t.opMu.Lock()
		defer t.opMu.Unlock()
		url, err := t.driver.CurrentURL(context.Background())
		if err != nil {
			return
		}
		title, _ := t.driver.CurrentTitle(context.Background())
		n.NotifyNavigation(t.ID, url, title)
	})
}

// SetSessionID records which session owns this tab (spec §4.2).
func (t *Tab) SetSessionID(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
}

func (t *Tab) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetRecorder attaches (or clears, with nil) the learn-mode recorder this
// tab's bridge events are forwarded to.
func (t *Tab) SetRecorder(r Recorder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recorder = r
	t.learning = r != nil
}

// SetNotifier attaches the sink for engine-originated broadcast events.
func (t *Tab) SetNotifier(n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifier = n
}

func (t *Tab) IsLoading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isLoading
}

// Navigate implements spec §4.3 navigate.
func (t *Tab) Navigate(ctx context.Context, url string, wait webview.WaitUntil, timeout time.Duration) (webview.NavResult, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	t.state = StateNavigating
	t.isLoading = true
	t.loadingURL = url
	t.detector.Reset()
	t.mu.Unlock()

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.driver.Navigate(navCtx, url, wait)
	if err != nil {
		t.mu.Lock()
		t.state = StateFailed
		t.isLoading = false
		t.mu.Unlock()
		return webview.NavResult{}, rpcerr.Navigation("navigation failed", err)
	}

	if wait == webview.WaitIdle {
		if err := t.detector.Wait(navCtx, timeout); err != nil {
			return webview.NavResult{}, err
		}
		title, terr := t.driver.CurrentTitle(navCtx)
		if terr == nil {
			result.Title = title
		}
	}

	t.mu.Lock()
	t.state = StateLoaded
	t.isLoading = false
	t.mu.Unlock()
	t.logNavigationResult(result.URL)
	return result, nil
}

// logNavigationResult logs where a tab just landed without putting the full
// URL — query strings routinely carry tokens and other secrets — into the
// process log at debug level; origin and path are enough to follow
// navigation flow from the logs.
func (t *Tab) logNavigationResult(rawURL string) {
	t.logger.Debug("navigation settled",
		zap.String("tabId", t.ID),
		zap.String("origin", util.ExtractOrigin(rawURL)),
		zap.String("path", util.ExtractURLPath(rawURL)))
}

func (t *Tab) GoBack(ctx context.Context, wait webview.WaitUntil, timeout time.Duration) (webview.NavResult, error) {
	return t.navLike(ctx, wait, timeout, t.driver.GoBack)
}

func (t *Tab) GoForward(ctx context.Context, wait webview.WaitUntil, timeout time.Duration) (webview.NavResult, error) {
	return t.navLike(ctx, wait, timeout, t.driver.GoForward)
}

func (t *Tab) Reload(ctx context.Context, wait webview.WaitUntil, timeout time.Duration) (webview.NavResult, error) {
	return t.navLike(ctx, wait, timeout, t.driver.Reload)
}

func (t *Tab) navLike(ctx context.Context, wait webview.WaitUntil, timeout time.Duration, op func(context.Context, webview.WaitUntil) (webview.NavResult, error)) (webview.NavResult, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	t.state = StateNavigating
	t.isLoading = true
	t.detector.Reset()
	t.mu.Unlock()

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op(navCtx, wait)
	if err != nil {
		t.mu.Lock()
		t.state = StateFailed
		t.isLoading = false
		t.mu.Unlock()
		return webview.NavResult{}, rpcerr.Navigation("navigation failed", err)
	}

	if wait == webview.WaitIdle {
		if err := t.detector.Wait(navCtx, timeout); err != nil {
			return webview.NavResult{}, err
		}
	}

	t.mu.Lock()
	t.state = StateLoaded
	t.isLoading = false
	t.mu.Unlock()
	t.logNavigationResult(result.URL)
	return result, nil
}

func (t *Tab) StopLoading(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if err := t.driver.StopLoading(ctx); err != nil {
		return rpcerr.Internal("stop loading failed", err)
	}
	t.mu.Lock()
	t.isLoading = false
	t.mu.Unlock()
	return nil
}

func (t *Tab) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := t.driver.Evaluate(waitCtx, "return await window.__agent.waitForSelector(selector, timeoutMs)",
		map[string]any{"selector": selector, "timeoutMs": timeout.Milliseconds()})
	if err != nil {
		return rpcerr.Timeout("wait_for_selector")
	}
	return nil
}

// Evaluate implements spec §4.3 evaluate.
func (t *Tab) Evaluate(ctx context.Context, script string, args map[string]any) (any, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	result, err := t.driver.Evaluate(ctx, script, args)
	if err != nil {
		return nil, rpcerr.JavaScript("script evaluation failed", err)
	}
	return result, nil
}

func (t *Tab) GetAccessibilityTree(ctx context.Context) ([]a11y.Node, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	raw, err := t.driver.Evaluate(ctx, "return extractA11yTree()", nil)
	if err != nil {
		return nil, rpcerr.JavaScript("accessibility extraction failed", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, rpcerr.Internal("marshal accessibility tree", err)
	}
	return a11y.ParseTree(encoded)
}

func (t *Tab) Click(ctx context.Context, target string) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	selector := a11y.ResolveTarget(target)
	_, err := t.driver.Evaluate(ctx, "return aslanClick(selector)", map[string]any{"selector": selector})
	if err != nil {
		return rpcerr.JavaScript("click failed", err)
	}
	return nil
}

func (t *Tab) Fill(ctx context.Context, target, value string) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	selector := a11y.ResolveTarget(target)
	_, err := t.driver.Evaluate(ctx, "return aslanFill(selector, value)",
		map[string]any{"selector": selector, "value": value})
	if err != nil {
		return rpcerr.JavaScript("fill failed", err)
	}
	return nil
}

func (t *Tab) Select(ctx context.Context, target, value string) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	selector := a11y.ResolveTarget(target)
	_, err := t.driver.Evaluate(ctx, "return aslanSelect(selector, value)",
		map[string]any{"selector": selector, "value": value})
	if err != nil {
		return rpcerr.JavaScript("select failed", err)
	}
	return nil
}

func (t *Tab) Keypress(ctx context.Context, target, key string, modifiers map[string]bool) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	selector := ""
	if target != "" {
		selector = a11y.ResolveTarget(target)
	}
	_, err := t.driver.Evaluate(ctx, "return aslanKeypress(selector, key, modifiers)",
		map[string]any{"selector": selector, "key": key, "modifiers": modifiers})
	if err != nil {
		return rpcerr.JavaScript("keypress failed", err)
	}
	return nil
}

func (t *Tab) Scroll(ctx context.Context, x, y float64, target string) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	selector := ""
	if target != "" {
		selector = a11y.ResolveTarget(target)
	}
	_, err := t.driver.Evaluate(ctx, "return aslanScroll(x, y, selector)",
		map[string]any{"x": x, "y": y, "selector": selector})
	if err != nil {
		return rpcerr.JavaScript("scroll failed", err)
	}
	return nil
}

func (t *Tab) Screenshot(ctx context.Context, quality int, width int64) ([]byte, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	data, err := t.driver.Screenshot(ctx, quality, width)
	if err != nil {
		return nil, rpcerr.Internal("screenshot failed", err)
	}
	return data, nil
}

func (t *Tab) GetCookies(ctx context.Context, url string) ([]webview.Cookie, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	cookies, err := t.driver.GetCookies(ctx, url)
	if err != nil {
		return nil, rpcerr.Internal("get cookies failed", err)
	}
	return cookies, nil
}

func (t *Tab) SetCookie(ctx context.Context, cookie webview.Cookie) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if err := t.driver.SetCookie(ctx, cookie); err != nil {
		return rpcerr.Internal("set cookie failed", err)
	}
	return nil
}

// CurrentURL and CurrentTitle support list_tabs snapshots without a
// navigation round-trip (spec §4.2 list_tabs).
func (t *Tab) CurrentURL(ctx context.Context) (string, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	url, err := t.driver.CurrentURL(ctx)
	if err != nil {
		return "", rpcerr.Internal("read current url", err)
	}
	return url, nil
}

func (t *Tab) CurrentTitle(ctx context.Context) (string, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	title, err := t.driver.CurrentTitle(ctx)
	if err != nil {
		return "", rpcerr.Internal("read current title", err)
	}
	return title, nil
}

// StartLearnListeners injects the learn-mode bridge JS (spec §4.3, §4.7) and
// remembers it so a later navigation can re-inject it.
func (t *Tab) StartLearnListeners(ctx context.Context, learnScript string) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if err := t.driver.InjectScript(ctx, learnScript); err != nil {
		return rpcerr.LearnMode(fmt.Sprintf("failed to start learn listeners: %v", err))
	}
	t.mu.Lock()
	t.learnJS = learnScript
	t.mu.Unlock()
	return nil
}

// StopLearnListeners removes the learn-mode bridge JS.
func (t *Tab) StopLearnListeners(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	return t.stopLearnListenersLocked(ctx)
}

// stopLearnListenersLocked does the work of StopLearnListeners without
// acquiring opMu, for callers (Close) that already hold it.
func (t *Tab) stopLearnListenersLocked(ctx context.Context) error {
	t.mu.Lock()
	t.learnJS = ""
	t.mu.Unlock()
	if err := t.driver.RemoveInjectedScripts(ctx); err != nil {
		return rpcerr.LearnMode(fmt.Sprintf("failed to stop learn listeners: %v", err))
	}
	return nil
}

// DispatchBridgeMessage forwards a decoded learnAction bridge message to the
// attached recorder, if any. Per spec §4.7, the tab lets the page settle for
// a short delay, captures a screenshot, then hands the action and the
// screenshot bytes to the recorder together — the recorder never reaches
// back into the tab to ask for one.
func (t *Tab) DispatchBridgeMessage(msg pagebridge.Message) {
	if msg.Type != pagebridge.MessageLearnAction {
		return
	}
	t.mu.Lock()
	r := t.recorder
	t.mu.Unlock()
	if r == nil {
		return
	}

	action := msg.Action
	util.SafeGo(func() {
		time.Sleep(learnScreenshotDelay)
		t.opMu.Lock()
		defer t.opMu.Unlock()
		shot, err := t.driver.Screenshot(context.Background(), learnScreenshotQuality, learnScreenshotWidth)
		if err != nil {
			t.logger.Warn("failed to capture learn-mode screenshot", zap.Error(err))
			shot = nil
		}
		r.RecordAction(t.ID, action, shot)
	})
}

// Close tears down the tab (spec §4.3 Teardown): detach bridge handlers,
// cancel pending readiness waiters, and defer the driver release by one
// event-loop tick so in-flight callbacks don't dereference freed state.
func (t *Tab) Close(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.detector.CancelAll()
	_ = t.stopLearnListenersLocked(ctx)

	done := make(chan struct{})
	go func() {
		// One scheduler tick of slack before the underlying context is
		// cancelled (spec §4.3: "defer the release... by at least one
		// event-loop tick").
		time.Sleep(time.Millisecond)
		close(done)
	}()
	<-done

	if err := t.driver.Close(ctx); err != nil {
		return rpcerr.Internal("close tab", err)
	}
	return nil
}

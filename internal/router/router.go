// router.go — The method router (spec §4.8): a flat method-name switch that
// resolves a request to its façade/registry/recorder call and returns a
// result value or a domain error. Grounded on the teacher's cmd/dev-console
// tools.go dispatch ("a single switch on tool name... flat and
// predictable"), generalized from MCP tool-call dispatch to the JSON-RPC
// method surface this protocol exposes (spec §6.2), plus batch's concurrent
// sub-request fan-out (spec §4.8).
package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/jsonrpc"
	"github.com/brennhill/aslan-browser/internal/learn"
	"github.com/brennhill/aslan-browser/internal/registry"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/tab"
	"github.com/brennhill/aslan-browser/internal/webview"
)

// defaultTimeoutMs is used for navigate/waitForSelector when the request
// omits an explicit timeout.
const defaultTimeoutMsFallback = 30_000

// Router implements transport.Dispatcher against a Registry and a learn
// Manager.
type Router struct {
	registry *registry.Registry
	recorder *learn.Manager
	logger   *zap.Logger

	defaultTimeoutMs int64
}

func New(reg *registry.Registry, recorder *learn.Manager, defaultTimeoutMs int64, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTimeoutMs <= 0 {
		defaultTimeoutMs = defaultTimeoutMsFallback
	}
	return &Router{registry: reg, recorder: recorder, defaultTimeoutMs: defaultTimeoutMs, logger: logger}
}

// OnDisconnect tears down any auto-session the departing connection owned
// (spec §4.1, §4.2).
func (r *Router) OnDisconnect(clientID string) {
	r.registry.DestroySessionsOwnedBy(context.Background(), clientID)
}

// Dispatch resolves one request to a result or a domain error (spec §4.8).
// batch is handled here directly since it needs access to Dispatch itself;
// every other method is a flat switch over the method name.
func (r *Router) Dispatch(ctx context.Context, req jsonrpc.Request, clientID string) (any, error) {
	if req.Method == "batch" {
		return r.dispatchBatch(ctx, req.Params, clientID)
	}
	return r.dispatchOne(ctx, req.Method, req.Params, clientID)
}

func (r *Router) dispatchOne(ctx context.Context, method string, params json.RawMessage, clientID string) (any, error) {
	switch method {
	case "navigate":
		return r.navigate(ctx, params)
	case "goBack":
		return r.navLike(ctx, params, (*tab.Tab).GoBack)
	case "goForward":
		return r.navLike(ctx, params, (*tab.Tab).GoForward)
	case "reload":
		return r.navLike(ctx, params, (*tab.Tab).Reload)
	case "waitForSelector":
		return r.waitForSelector(ctx, params)
	case "evaluate":
		return r.evaluate(ctx, params)
	case "screenshot":
		return r.screenshot(ctx, params)
	case "getAccessibilityTree":
		return r.getAccessibilityTree(ctx, params)
	case "getTitle":
		return r.getTitle(ctx, params)
	case "getURL":
		return r.getURL(ctx, params)
	case "click":
		return r.click(ctx, params)
	case "fill":
		return r.fill(ctx, params)
	case "select":
		return r.selectOption(ctx, params)
	case "keypress":
		return r.keypress(ctx, params)
	case "scroll":
		return r.scroll(ctx, params)
	case "getCookies":
		return r.getCookies(ctx, params)
	case "setCookie":
		return r.setCookie(ctx, params)
	case "stopLoading":
		return r.stopLoading(ctx, params)
	case "tab.create":
		return r.tabCreate(ctx, params)
	case "tab.close":
		return r.tabClose(ctx, params)
	case "tab.list":
		return r.tabList(ctx, params)
	case "session.create":
		return r.sessionCreate(params, clientID)
	case "session.destroy":
		return r.sessionDestroy(ctx, params)
	case "learn.start":
		return r.learnStart(params)
	case "learn.stop":
		return r.learnStop()
	case "learn.status":
		return r.learnStatus(), nil
	case "learn.note":
		return r.learnNote(params)
	default:
		return nil, rpcerr.New(rpcerr.KindMethodNotFound, "method not found: "+method)
	}
}

// --- param shapes -----------------------------------------------------

type tabParams struct {
	TabID string `json:"tabId"`
}

type navigateParams struct {
	TabID     string `json:"tabId"`
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil"`
	Timeout   int64  `json:"timeout"`
}

type waitForSelectorParams struct {
	TabID    string `json:"tabId"`
	Selector string `json:"selector"`
	Timeout  int64  `json:"timeout"`
}

type evaluateParams struct {
	TabID  string         `json:"tabId"`
	Script string         `json:"script"`
	Args   map[string]any `json:"args"`
}

type screenshotParams struct {
	TabID   string `json:"tabId"`
	Quality int    `json:"quality"`
	Width   int64  `json:"width"`
}

type interactionParams struct {
	TabID    string `json:"tabId"`
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type keypressParams struct {
	TabID     string          `json:"tabId"`
	Key       string          `json:"key"`
	Modifiers map[string]bool `json:"modifiers"`
}

type scrollParams struct {
	TabID    string  `json:"tabId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Selector string  `json:"selector"`
}

type getCookiesParams struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
}

type setCookieParams struct {
	TabID  string         `json:"tabId"`
	Cookie webview.Cookie `json:"cookie"`
}

type tabCreateParams struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Hidden    bool   `json:"hidden"`
	SessionID string `json:"sessionId"`
}

type tabListParams struct {
	SessionID string `json:"sessionId"`
}

type sessionCreateParams struct {
	Name string `json:"name"`
}

type sessionDestroyParams struct {
	SessionID string `json:"sessionId"`
}

type learnStartParams struct {
	Name string `json:"name"`
}

type learnNoteParams struct {
	TabID string `json:"tabId"`
	Text  string `json:"text"`
}

func decode[T any](params json.RawMessage) (T, error) {
	var p T
	if len(params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, rpcerr.InvalidParams("malformed params: " + err.Error())
	}
	return p, nil
}

func (r *Router) resolveTab(tabID string) (*tab.Tab, error) {
	if tabID == "" {
		return nil, rpcerr.InvalidParams("tabId is required")
	}
	return r.registry.GetTab(tabID)
}

func (r *Router) timeoutMs(requested int64) int64 {
	if requested > 0 {
		return requested
	}
	return r.defaultTimeoutMs
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// --- navigation ---------------------------------------------------------

func (r *Router) navigate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[navigateParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	wait, ok := webview.ParseWaitUntil(p.WaitUntil)
	if !ok {
		return nil, rpcerr.InvalidParams("invalid waitUntil: " + p.WaitUntil)
	}
	result, err := t.Navigate(ctx, p.URL, wait, millis(r.timeoutMs(p.Timeout)))
	if err != nil {
		return nil, err
	}
	if r.recorder != nil {
		r.recorder.OnNavigation(p.TabID)
	}
	return map[string]string{"url": result.URL, "title": result.Title}, nil
}

func (r *Router) navLike(ctx context.Context, params json.RawMessage, op func(*tab.Tab, context.Context, webview.WaitUntil, time.Duration) (webview.NavResult, error)) (any, error) {
	p, err := decode[navigateParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	wait, ok := webview.ParseWaitUntil(p.WaitUntil)
	if !ok {
		return nil, rpcerr.InvalidParams("invalid waitUntil: " + p.WaitUntil)
	}
	result, err := op(t, ctx, wait, millis(r.timeoutMs(p.Timeout)))
	if err != nil {
		return nil, err
	}
	if r.recorder != nil {
		r.recorder.OnNavigation(p.TabID)
	}
	return map[string]string{"url": result.URL, "title": result.Title}, nil
}

func (r *Router) stopLoading(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.StopLoading(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) waitForSelector(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[waitForSelectorParams](params)
	if err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, rpcerr.InvalidParams("selector is required")
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.WaitForSelector(ctx, p.Selector, millis(r.timeoutMs(p.Timeout))); err != nil {
		return nil, err
	}
	return map[string]bool{"found": true}, nil
}

func (r *Router) evaluate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[evaluateParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	value, err := t.Evaluate(ctx, p.Script, p.Args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value}, nil
}

func (r *Router) screenshot(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[screenshotParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	quality := p.Quality
	if quality <= 0 {
		quality = 80
	}
	width := p.Width
	if width <= 0 {
		width = 1280
	}
	data, err := t.Screenshot(ctx, quality, width)
	if err != nil {
		return nil, err
	}
	return map[string]string{"data": base64Encode(data)}, nil
}

func (r *Router) getAccessibilityTree(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	tree, err := t.GetAccessibilityTree(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tree": tree}, nil
}

func (r *Router) getTitle(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	title, err := t.CurrentTitle(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"title": title}, nil
}

func (r *Router) getURL(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	url, err := t.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"url": url}, nil
}

// --- interaction ----------------------------------------------------------

func (r *Router) click(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[interactionParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.Click(ctx, p.Selector); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) fill(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[interactionParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.Fill(ctx, p.Selector, p.Value); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) selectOption(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[interactionParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.Select(ctx, p.Selector, p.Value); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) keypress(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[keypressParams](params)
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, rpcerr.InvalidParams("key is required")
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.Keypress(ctx, "", p.Key, p.Modifiers); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) scroll(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[scrollParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.Scroll(ctx, p.X, p.Y, p.Selector); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) getCookies(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[getCookiesParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	cookies, err := t.GetCookies(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cookies": cookies}, nil
}

func (r *Router) setCookie(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[setCookieParams](params)
	if err != nil {
		return nil, err
	}
	t, err := r.resolveTab(p.TabID)
	if err != nil {
		return nil, err
	}
	if err := t.SetCookie(ctx, p.Cookie); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// --- registry -------------------------------------------------------------

func (r *Router) tabCreate(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabCreateParams](params)
	if err != nil {
		return nil, err
	}
	tabID, err := r.registry.CreateTab(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"tabId": tabID}, nil
}

func (r *Router) tabClose(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabParams](params)
	if err != nil {
		return nil, err
	}
	if err := r.registry.CloseTab(ctx, p.TabID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) tabList(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[tabListParams](params)
	if err != nil {
		return nil, err
	}
	tabs, err := r.registry.ListTabs(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tabs": tabs}, nil
}

func (r *Router) sessionCreate(params json.RawMessage, clientID string) (any, error) {
	p, err := decode[sessionCreateParams](params)
	if err != nil {
		return nil, err
	}
	sessionID := r.registry.CreateSession(p.Name, clientID)
	return map[string]string{"sessionId": sessionID}, nil
}

func (r *Router) sessionDestroy(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decode[sessionDestroyParams](params)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, rpcerr.InvalidParams("sessionId is required")
	}
	closed, err := r.registry.DestroySession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "closedTabs": closed}, nil
}

// --- learn mode -------------------------------------------------------------

func (r *Router) learnStart(params json.RawMessage) (any, error) {
	p, err := decode[learnStartParams](params)
	if err != nil {
		return nil, err
	}
	if err := r.recorder.Start(p.Name); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Router) learnStop() (any, error) {
	log, err := r.recorder.Stop()
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (r *Router) learnStatus() any {
	return map[string]bool{"recording": r.recorder.IsRecording()}
}

func (r *Router) learnNote(params json.RawMessage) (any, error) {
	p, err := decode[learnNoteParams](params)
	if err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, rpcerr.InvalidParams("text is required")
	}
	r.recorder.Note(p.TabID, p.Text)
	return map[string]bool{"ok": true}, nil
}

// --- batch ------------------------------------------------------------

// dispatchBatch runs every sub-request concurrently (spec §4.8), collecting
// results in original order. A nested batch is rejected with -32600
// (envelope error) rather than recursing. Two sub-requests that target the
// same tab are not serialized here — tab.Tab.opMu is what enforces spec §3
// invariant 5, so same-tab sub-requests simply queue on that lock while
// different-tab sub-requests still run in parallel as written below.
func (r *Router) dispatchBatch(ctx context.Context, params json.RawMessage, clientID string) (any, error) {
	var req jsonrpc.BatchRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, rpcerr.InvalidParams("malformed batch params: " + err.Error())
		}
	}

	responses := make([]jsonrpc.SubResponse, len(req.Requests))
	var wg sync.WaitGroup
	for i, sub := range req.Requests {
		wg.Add(1)
		go func(i int, sub jsonrpc.SubRequest) {
			defer wg.Done()
			if sub.Method == "batch" {
				responses[i] = jsonrpc.SubResponse{Error: &jsonrpc.Error{
					Code:    rpcerr.KindEnvelope.Code(),
					Message: "nested batch is not allowed",
				}}
				return
			}
			result, err := r.dispatchOne(ctx, sub.Method, sub.Params, clientID)
			if err != nil {
				de := rpcerr.AsDomainError(err)
				responses[i] = jsonrpc.SubResponse{Error: &jsonrpc.Error{Code: de.Code(), Message: de.Message}}
				return
			}
			raw, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				responses[i] = jsonrpc.SubResponse{Error: &jsonrpc.Error{
					Code:    rpcerr.KindInternal.Code(),
					Message: "failed to marshal sub-response",
				}}
				return
			}
			responses[i] = jsonrpc.SubResponse{Result: raw}
		}(i, sub)
	}
	wg.Wait()

	return jsonrpc.BatchResponse{Responses: responses}, nil
}

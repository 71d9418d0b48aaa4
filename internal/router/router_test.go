// router_test.go — Tests for method dispatch against an in-memory registry
// backed by a fake webview.Driver.
package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/brennhill/aslan-browser/internal/jsonrpc"
	"github.com/brennhill/aslan-browser/internal/learn"
	"github.com/brennhill/aslan-browser/internal/redaction"
	"github.com/brennhill/aslan-browser/internal/registry"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/webview"
)

type fakeDriver struct {
	evalResult any
	cookies    []webview.Cookie
	handler    func(webview.Event)
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, wait webview.WaitUntil) (webview.NavResult, error) {
	return webview.NavResult{URL: url, Title: "Example Domain"}, nil
}
func (f *fakeDriver) GoBack(ctx context.Context, wait webview.WaitUntil) (webview.NavResult, error) {
	return webview.NavResult{URL: "https://example.com/back", Title: "Back"}, nil
}
func (f *fakeDriver) GoForward(ctx context.Context, wait webview.WaitUntil) (webview.NavResult, error) {
	return webview.NavResult{}, nil
}
func (f *fakeDriver) Reload(ctx context.Context, wait webview.WaitUntil) (webview.NavResult, error) {
	return webview.NavResult{}, nil
}
func (f *fakeDriver) StopLoading(ctx context.Context) error { return nil }
func (f *fakeDriver) Evaluate(ctx context.Context, script string, args map[string]any) (any, error) {
	return f.evalResult, nil
}
func (f *fakeDriver) InjectScript(ctx context.Context, js string) error { return nil }
func (f *fakeDriver) RemoveInjectedScripts(ctx context.Context) error   { return nil }
func (f *fakeDriver) Screenshot(ctx context.Context, quality int, width int64) ([]byte, error) {
	return []byte("jpeg"), nil
}
func (f *fakeDriver) GetCookies(ctx context.Context, url string) ([]webview.Cookie, error) {
	return f.cookies, nil
}
func (f *fakeDriver) SetCookie(ctx context.Context, c webview.Cookie) error { return nil }
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error)       { return "https://example.com/", nil }
func (f *fakeDriver) CurrentTitle(ctx context.Context) (string, error)     { return "Example Domain", nil }
func (f *fakeDriver) OnEvent(handler func(webview.Event))                  { f.handler = handler }
func (f *fakeDriver) Close(ctx context.Context) error                     { return nil }

type fakeNotifier struct{ notifications []jsonrpc.Notification }

func (f *fakeNotifier) Broadcast(n jsonrpc.Notification) { f.notifications = append(f.notifications, n) }

func newTestRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New(func(ctx context.Context) (webview.Driver, error) {
		return &fakeDriver{}, nil
	}, &fakeNotifier{}, nil)
	if _, err := reg.CreateTab(context.Background(), ""); err != nil {
		t.Fatalf("seed CreateTab error = %v", err)
	}
	mgr := learn.NewManager(reg, redaction.NewRedactionEngine(""), nil)
	reg.SetRecorder(mgr)
	return New(reg, mgr, 5000, nil), reg
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	return b
}

func TestNavigateReturnsURLAndTitle(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	result, err := r.Dispatch(context.Background(), jsonrpc.Request{
		Method: "navigate",
		Params: raw(t, map[string]any{"tabId": "tab0", "url": "https://example.com", "waitUntil": "load"}),
	}, "conn1")
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	m := result.(map[string]string)
	if m["url"] != "https://example.com" || m["title"] != "Example Domain" {
		t.Fatalf("unexpected result: %+v", m)
	}
}

func TestEvaluateWithoutReturnYieldsNullValue(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	result, err := r.Dispatch(context.Background(), jsonrpc.Request{
		Method: "evaluate",
		Params: raw(t, map[string]any{"tabId": "tab0", "script": "document.title"}),
	}, "conn1")
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	m := result.(map[string]any)
	if m["value"] != nil {
		t.Fatalf("value = %v, want nil", m["value"])
	}
}

func TestMethodNotFoundReturnsDomainError(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	_, err := r.Dispatch(context.Background(), jsonrpc.Request{Method: "no.such.method"}, "conn1")
	de := rpcerr.AsDomainError(err)
	if de.Kind != rpcerr.KindMethodNotFound {
		t.Fatalf("kind = %v, want %v", de.Kind, rpcerr.KindMethodNotFound)
	}
}

func TestTabCreateListCloseRoundTrip(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	ctx := context.Background()

	createResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "tab.create", Params: raw(t, map[string]any{})}, "conn1")
	if err != nil {
		t.Fatalf("tab.create error = %v", err)
	}
	tabID := createResult.(map[string]string)["tabId"]
	if tabID != "tab1" {
		t.Fatalf("tabId = %q, want tab1", tabID)
	}

	listResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "tab.list", Params: raw(t, map[string]any{})}, "conn1")
	if err != nil {
		t.Fatalf("tab.list error = %v", err)
	}
	tabs := listResult.(map[string]any)["tabs"].([]registry.TabInfo)
	if len(tabs) != 2 {
		t.Fatalf("len(tabs) = %d, want 2", len(tabs))
	}

	closeResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "tab.close", Params: raw(t, map[string]string{"tabId": tabID})}, "conn1")
	if err != nil {
		t.Fatalf("tab.close error = %v", err)
	}
	if !closeResult.(map[string]bool)["ok"] {
		t.Fatal("expected ok=true from tab.close")
	}
}

func TestSessionCreateDestroyClosesOwnedTabs(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	ctx := context.Background()

	sessResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "session.create", Params: raw(t, map[string]any{"name": "s"})}, "conn1")
	if err != nil {
		t.Fatalf("session.create error = %v", err)
	}
	sessionID := sessResult.(map[string]string)["sessionId"]

	for i := 0; i < 2; i++ {
		if _, err := r.Dispatch(ctx, jsonrpc.Request{Method: "tab.create", Params: raw(t, map[string]any{"sessionId": sessionID})}, "conn1"); err != nil {
			t.Fatalf("tab.create error = %v", err)
		}
	}

	listResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "tab.list", Params: raw(t, map[string]any{"sessionId": sessionID})}, "conn1")
	if err != nil {
		t.Fatalf("tab.list error = %v", err)
	}
	if got := len(listResult.(map[string]any)["tabs"].([]registry.TabInfo)); got != 2 {
		t.Fatalf("tabs in session = %d, want 2", got)
	}

	destroyResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "session.destroy", Params: raw(t, map[string]string{"sessionId": sessionID})}, "conn1")
	if err != nil {
		t.Fatalf("session.destroy error = %v", err)
	}
	closedTabs := destroyResult.(map[string]any)["closedTabs"].([]string)
	if len(closedTabs) != 2 {
		t.Fatalf("closedTabs = %v, want 2 entries", closedTabs)
	}

	if _, err := r.Dispatch(ctx, jsonrpc.Request{Method: "tab.list", Params: raw(t, map[string]any{"sessionId": sessionID})}, "conn1"); err == nil {
		t.Fatal("expected tab.list on destroyed session to error")
	}
}

func TestBatchMixedSuccessAndFailure(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	result, err := r.Dispatch(context.Background(), jsonrpc.Request{
		Method: "batch",
		Params: raw(t, jsonrpc.BatchRequest{Requests: []jsonrpc.SubRequest{
			{Method: "getTitle", Params: raw(t, map[string]string{"tabId": "tab0"})},
			{Method: "getTitle", Params: raw(t, map[string]string{"tabId": "nonexistent"})},
		}}),
	}, "conn1")
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	resp := result.(jsonrpc.BatchResponse)
	if len(resp.Responses) != 2 {
		t.Fatalf("len(responses) = %d, want 2", len(resp.Responses))
	}
	if resp.Responses[0].Error != nil {
		t.Fatalf("responses[0] unexpectedly errored: %+v", resp.Responses[0].Error)
	}
	var titleResult struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(resp.Responses[0].Result, &titleResult); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if titleResult.Title != "Example Domain" {
		t.Fatalf("title = %q, want Example Domain", titleResult.Title)
	}
	if resp.Responses[1].Error == nil || resp.Responses[1].Error.Code != rpcerr.KindTabNotFound.Code() {
		t.Fatalf("responses[1] = %+v, want tab_not_found error", resp.Responses[1])
	}
}

func TestBatchRejectsNestedBatch(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	result, err := r.Dispatch(context.Background(), jsonrpc.Request{
		Method: "batch",
		Params: raw(t, jsonrpc.BatchRequest{Requests: []jsonrpc.SubRequest{
			{Method: "batch", Params: raw(t, jsonrpc.BatchRequest{})},
		}}),
	}, "conn1")
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	resp := result.(jsonrpc.BatchResponse)
	if resp.Responses[0].Error == nil || resp.Responses[0].Error.Code != rpcerr.KindEnvelope.Code() {
		t.Fatalf("nested batch response = %+v, want envelope error", resp.Responses[0])
	}
}

func TestLearnStartStopStatus(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.Dispatch(ctx, jsonrpc.Request{Method: "learn.start", Params: raw(t, map[string]string{"name": "router-test-recording"})}, "conn1"); err != nil {
		t.Fatalf("learn.start error = %v", err)
	}

	statusResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "learn.status"}, "conn1")
	if err != nil {
		t.Fatalf("learn.status error = %v", err)
	}
	if !statusResult.(map[string]bool)["recording"] {
		t.Fatal("expected recording=true after learn.start")
	}

	if _, err := r.Dispatch(ctx, jsonrpc.Request{Method: "learn.start", Params: raw(t, map[string]string{"name": "again"})}, "conn1"); err == nil {
		t.Fatal("expected second learn.start to error")
	}

	stopResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "learn.stop"}, "conn1")
	if err != nil {
		t.Fatalf("learn.stop error = %v", err)
	}
	log := stopResult.(learn.ActionLog)
	if log.Name != "router-test-recording" {
		t.Fatalf("log.Name = %q, want router-test-recording", log.Name)
	}
}

func TestOnDisconnectDestroysOwnedSession(t *testing.T) {
	t.Parallel()
	r, reg := newTestRouter(t)
	ctx := context.Background()

	sessResult, err := r.Dispatch(ctx, jsonrpc.Request{Method: "session.create", Params: raw(t, map[string]any{})}, "conn1")
	if err != nil {
		t.Fatalf("session.create error = %v", err)
	}
	sessionID := sessResult.(map[string]string)["sessionId"]

	r.OnDisconnect("conn1")

	if _, err := reg.DestroySession(ctx, sessionID); err == nil {
		t.Fatal("expected session to already be destroyed on disconnect")
	}
}

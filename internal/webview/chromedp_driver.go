// chromedp_driver.go — chromedp-backed Driver implementation: one CDP
// browser context per tab, grounded on ajsharma-browser_tail's
// internal/cdp/manager.go (allocator/browser context lifecycle,
// chromedp.ListenTarget for engine events) and internal/control/controller.go
// (per-operation chromedp.Run with a bounded context). Evaluate uses
// runtime.CallFunctionOn directly instead of chromedp.Evaluate, because the
// protocol requires binding an arguments map as named parameters rather than
// interpolating them into the script text (spec §4.3).
package webview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/a11y"
	"github.com/brennhill/aslan-browser/internal/pagebridge"
)

// ChromeDriver drives one browser tab over CDP. It is not safe for
// concurrent use; callers (internal/tab.Tab) must serialize access.
type ChromeDriver struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	handler func(Event)

	scriptIDs []page.ScriptIdentifier
}

// NewChromeDriver creates a fresh browser tab under allocatorCtx (the shared
// remote-allocator context owned by the process, per spec §4.2 "a tab is a
// live WebView... created by registry on request").
func NewChromeDriver(allocatorCtx context.Context, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tabCtx, cancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("webview: create tab context: %w", err)
	}

	d := &ChromeDriver{ctx: tabCtx, cancel: cancel, logger: logger}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		d.dispatchEvent(ev)
	})

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		page.Enable(),
		runtime.AddBinding(pagebridge.BindingName),
		page.AddScriptToEvaluateOnNewDocument(pagebridge.Script),
		page.AddScriptToEvaluateOnNewDocument(a11y.ExtractScript),
		page.AddScriptToEvaluateOnNewDocument(a11y.InteractionScript),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("webview: enable CDP domains: %w", err)
	}

	return d, nil
}

func (d *ChromeDriver) dispatchEvent(ev any) {
	if d.handler == nil {
		return
	}
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		if e.Name == "load" {
			d.handler(Event{Kind: EventNavigationFinished, At: time.Now()})
		}
	case *page.EventFrameNavigated:
		// Frame-level navigation completed; readiness still waits for the
		// lifecycle "load" event above.
	case *runtime.EventConsoleAPICalled:
		var parts []string
		for _, a := range e.Args {
			parts = append(parts, string(a.Value))
		}
		d.handler(Event{Kind: EventConsole, At: time.Now(), Message: strings.Join(parts, " "), Level: string(e.Type)})
	case *runtime.EventExceptionThrown:
		msg := ""
		if e.ExceptionDetails != nil {
			msg = e.ExceptionDetails.Text
		}
		d.handler(Event{Kind: EventPageError, At: time.Now(), Message: msg})
	case *runtime.EventBindingCalled:
		if e.Name != pagebridge.BindingName {
			return
		}
		msg, err := pagebridge.Parse(e.Payload)
		if err != nil {
			return
		}
		switch msg.Type {
		case pagebridge.MessageDOMStable:
			d.handler(Event{Kind: EventDOMStable, At: time.Now()})
		case pagebridge.MessageNetworkBusy:
			d.handler(Event{Kind: EventNetworkBusy, At: time.Now()})
		case pagebridge.MessageNetworkIdle:
			d.handler(Event{Kind: EventNetworkIdle, At: time.Now()})
		case pagebridge.MessageLearnAction:
			d.handler(Event{Kind: EventLearnAction, At: time.Now(), Message: string(msg.Action)})
		}
	}
}

func (d *ChromeDriver) OnEvent(handler func(Event)) {
	d.handler = handler
}

func (d *ChromeDriver) navigate(ctx context.Context, url string, wait WaitUntil, nav chromedp.Action) (NavResult, error) {
	if wait == WaitNone {
		// spec §4.3: "For none, return immediately with the requested URL
		// and an empty title." chromedp's navigation actions (Navigate,
		// NavigateBack, NavigateForward, Reload) block internally until the
		// frame's load event fires, so running nav here synchronously — even
		// inside a bare ActionFunc — would still pause for a full page load.
		// Fire it on the tab's own long-lived context without waiting for it
		// to settle; the readiness detector's didFinishNavigation signal
		// picks up the eventual completion independently (spec §4.4).
		go func() {
			if err := chromedp.Run(d.ctx, nav); err != nil {
				d.logger.Warn("fire-and-forget navigation failed", zap.Error(err))
			}
		}()
		return NavResult{URL: url}, nil
	}

	if err := chromedp.Run(ctx, nav); err != nil {
		return NavResult{}, fmt.Errorf("webview: navigate: %w", err)
	}
	return d.currentNavResult(ctx)
}

func (d *ChromeDriver) currentNavResult(ctx context.Context) (NavResult, error) {
	var finalURL, title string
	if err := chromedp.Run(ctx, chromedp.Location(&finalURL), chromedp.Title(&title)); err != nil {
		return NavResult{}, fmt.Errorf("webview: read nav result: %w", err)
	}
	return NavResult{URL: finalURL, Title: title}, nil
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string, wait WaitUntil) (NavResult, error) {
	return d.navigate(ctx, url, wait, chromedp.Navigate(url))
}

func (d *ChromeDriver) GoBack(ctx context.Context, wait WaitUntil) (NavResult, error) {
	return d.navigate(ctx, "", wait, chromedp.NavigateBack())
}

func (d *ChromeDriver) GoForward(ctx context.Context, wait WaitUntil) (NavResult, error) {
	return d.navigate(ctx, "", wait, chromedp.NavigateForward())
}

func (d *ChromeDriver) Reload(ctx context.Context, wait WaitUntil) (NavResult, error) {
	return d.navigate(ctx, "", wait, chromedp.Reload())
}

func (d *ChromeDriver) StopLoading(ctx context.Context) error {
	return chromedp.Run(d.ctx, page.StopLoading())
}

// Evaluate builds `(async function(name1, name2, ...) { <script> })` and
// invokes it via Runtime.callFunctionOn with args bound as real CDP call
// arguments, so the script never sees textually-interpolated values
// (spec §4.3).
func (d *ChromeDriver) Evaluate(ctx context.Context, script string, args map[string]any) (any, error) {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	fnDecl := fmt.Sprintf("async function(%s) {\n%s\n}", strings.Join(names, ", "), script)

	callArgs := make([]*runtime.CallArgument, 0, len(names))
	for _, name := range names {
		raw, err := json.Marshal(args[name])
		if err != nil {
			return nil, fmt.Errorf("webview: marshal arg %q: %w", name, err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: raw})
	}

	var result any
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		doc, err := dom0(c)
		if err != nil {
			return err
		}
		remoteObj, exceptionDetails, err := runtime.CallFunctionOn(fnDecl).
			WithObjectID(doc).
			WithArguments(callArgs).
			WithAwaitPromise(true).
			WithReturnByValue(true).
			Do(c)
		if err != nil {
			return err
		}
		if exceptionDetails != nil {
			return fmt.Errorf("javascript exception: %s", exceptionDetails.Text)
		}
		if remoteObj != nil && len(remoteObj.Value) > 0 {
			return json.Unmarshal(remoteObj.Value, &result)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("webview: evaluate: %w", err)
	}
	return result, nil
}

// dom0 resolves an object id for the document's global execution context,
// used as the `this` binding for CallFunctionOn.
func dom0(ctx context.Context) (runtime.RemoteObjectID, error) {
	expr, exceptionDetails, err := runtime.Evaluate("globalThis").WithReturnByValue(false).Do(ctx)
	if err != nil {
		return "", err
	}
	if exceptionDetails != nil {
		return "", fmt.Errorf("javascript exception: %s", exceptionDetails.Text)
	}
	return expr.ObjectID, nil
}

func (d *ChromeDriver) InjectScript(ctx context.Context, js string) error {
	var id page.ScriptIdentifier
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		id, err = page.AddScriptToEvaluateOnNewDocument(js).Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("webview: inject script: %w", err)
	}
	d.scriptIDs = append(d.scriptIDs, id)
	return nil
}

func (d *ChromeDriver) RemoveInjectedScripts(ctx context.Context) error {
	for _, id := range d.scriptIDs {
		if err := chromedp.Run(ctx, page.RemoveScriptToEvaluateOnNewDocument(id)); err != nil {
			return fmt.Errorf("webview: remove injected script: %w", err)
		}
	}
	d.scriptIDs = nil
	return nil
}

func (d *ChromeDriver) Screenshot(ctx context.Context, quality int, width int64) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(width, 0),
		chromedp.ActionFunc(func(c context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(quality)).
				Do(c)
			if err != nil {
				return err
			}
			buf = data
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("webview: screenshot: %w", err)
	}
	return buf, nil
}

func (d *ChromeDriver) GetCookies(ctx context.Context, urlFilter string) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		getCookies := network.GetCookies()
		if urlFilter != "" {
			getCookies = getCookies.WithUrls([]string{urlFilter})
		}
		cookies, err = getCookies.Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("webview: get cookies: %w", err)
	}
	result := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		result = append(result, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  c.Expires,
		})
	}
	return result, nil
}

func (d *ChromeDriver) SetCookie(ctx context.Context, cookie Cookie) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain).
			WithPath(cookie.Path).
			WithSecure(cookie.Secure).
			WithHTTPOnly(cookie.HTTPOnly)
		if cookie.Expires > 0 {
			params = params.WithExpires(cdp.TimeSinceEpoch(cookie.Expires))
		}
		_, err := params.Do(c)
		return err
	}))
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("webview: current url: %w", err)
	}
	return url, nil
}

func (d *ChromeDriver) CurrentTitle(ctx context.Context) (string, error) {
	var title string
	if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("webview: current title: %w", err)
	}
	return title, nil
}

// Close releases the tab's browser context. Per spec §4.3 Teardown, the
// caller (internal/tab.Tab) is responsible for the one-tick deferral before
// calling Close; this just performs the actual CDP-level release.
func (d *ChromeDriver) Close(ctx context.Context) error {
	d.cancel()
	return nil
}


// registry.go — The Tab & Session registry (spec §4.2): single source of
// truth for the set of live tabs and sessions, id allocation, and connection
// ownership bookkeeping. Grounded on the teacher's internal/session.SessionManager
// for the mutex-protected-map-plus-insertion-order shape, generalized from
// named point-in-time snapshots to live, owned resources (tabs, sessions).
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/jsonrpc"
	"github.com/brennhill/aslan-browser/internal/learn"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/tab"
	"github.com/brennhill/aslan-browser/internal/webview"
)

// Notifier broadcasts server-originated notifications to every connected
// client (spec §4.1: "Notifications ... broadcast to every currently
// connected client"). *transport.Server satisfies this.
type Notifier interface {
	Broadcast(n jsonrpc.Notification)
}

// DriverFactory creates a fresh webview.Driver for a new tab. Production
// wiring passes a closure over a shared chromedp allocator context; tests
// substitute an in-memory fake.
type DriverFactory func(ctx context.Context) (webview.Driver, error)

// TabInfo is the list_tabs / tab.list snapshot shape (spec §4.2, §6.2).
type TabInfo struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// session is an internal bookkeeping record; the public surface only ever
// returns sessionIDs and tab id slices.
type session struct {
	id      string
	name    string
	tabIDs  map[string]struct{}
	ownerID string // connection id that created it; "" if created without one
}

// Registry owns every live Tab and Session for the process (spec §4.2).
type Registry struct {
	mu sync.RWMutex

	tabs       map[string]*tab.Tab
	tabOrder   []string
	nextTabSeq int

	sessions       map[string]*session
	nextSessionSeq int

	recorder *learn.Manager
	notifier Notifier
	logger   *zap.Logger

	newDriver DriverFactory
}

// New constructs a Registry with no tabs. Callers create the default tab0
// separately via CreateTab so construction never needs a live browser.
func New(newDriver DriverFactory, notifier Notifier, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tabs:      make(map[string]*tab.Tab),
		sessions:  make(map[string]*session),
		newDriver: newDriver,
		notifier:  notifier,
		logger:    logger,
	}
}

// SetRecorder attaches the learn-mode recorder every tab forwards bridge
// actions to once a recording is active (spec §4.7).
func (r *Registry) SetRecorder(m *learn.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = m
}

// CreateTab allocates the next tabN id, spins up a driver and façade, and
// binds it to sessionID if provided (spec §4.2 create_tab).
func (r *Registry) CreateTab(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	if sessionID != "" {
		if _, ok := r.sessions[sessionID]; !ok {
			r.mu.Unlock()
			return "", rpcerr.SessionNotFound(sessionID)
		}
	}
	id := fmt.Sprintf("tab%d", r.nextTabSeq)
	r.nextTabSeq++
	recorder := r.recorder
	r.mu.Unlock()

	driver, err := r.newDriver(ctx)
	if err != nil {
		return "", rpcerr.Internal("create webview driver", err)
	}

	t := tab.New(id, driver, r.logger)
	t.SetNotifier(notifierAdapter{id: id, notifier: r.notifier})
	if sessionID != "" {
		t.SetSessionID(sessionID)
	}

	recording := recorder != nil && recorder.IsRecording()
	if recording {
		t.SetRecorder(recorder)
		if err := t.StartLearnListeners(ctx, learn.Script); err != nil {
			r.logger.Warn("failed to install learn listeners on new tab", zap.String("tabId", id), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.tabs[id] = t
	r.tabOrder = append(r.tabOrder, id)
	if sessionID != "" {
		r.sessions[sessionID].tabIDs[id] = struct{}{}
	}
	r.mu.Unlock()

	if recording {
		recorder.OnTabCreated(id)
	}
	return id, nil
}

// GetTab resolves a tabId to its façade (spec §4.2 get_tab).
func (r *Registry) GetTab(tabID string) (*tab.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tabs[tabID]
	if !ok {
		return nil, rpcerr.TabNotFound(tabID)
	}
	return t, nil
}

// CloseTab tears the tab down and removes it from the registry and any
// owning session (spec §4.2 close_tab).
func (r *Registry) CloseTab(ctx context.Context, tabID string) error {
	r.mu.Lock()
	t, ok := r.tabs[tabID]
	if !ok {
		r.mu.Unlock()
		return rpcerr.TabNotFound(tabID)
	}
	delete(r.tabs, tabID)
	r.removeFromOrder(tabID)
	for _, s := range r.sessions {
		delete(s.tabIDs, tabID)
	}
	recorder := r.recorder
	r.mu.Unlock()

	recording := recorder != nil && recorder.IsRecording()
	if recording {
		recorder.OnTabClosed(tabID)
	}
	return t.Close(ctx)
}

// ListTabs snapshots the live tabs, optionally filtered to one session,
// ordered by ascending numeric tabId suffix (spec §4.2 list_tabs).
func (r *Registry) ListTabs(ctx context.Context, sessionID string) ([]TabInfo, error) {
	r.mu.RLock()
	var ids []string
	if sessionID != "" {
		s, ok := r.sessions[sessionID]
		if !ok {
			r.mu.RUnlock()
			return nil, rpcerr.SessionNotFound(sessionID)
		}
		for id := range s.tabIDs {
			ids = append(ids, id)
		}
	} else {
		ids = append(ids, r.tabOrder...)
	}
	tabs := make(map[string]*tab.Tab, len(ids))
	for _, id := range ids {
		tabs[id] = r.tabs[id]
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return tabSeq(ids[i]) < tabSeq(ids[j]) })

	infos := make([]TabInfo, 0, len(ids))
	for _, id := range ids {
		t := tabs[id]
		url, _ := t.CurrentURL(ctx)
		title, _ := t.CurrentTitle(ctx)
		infos = append(infos, TabInfo{TabID: id, URL: url, Title: title})
	}
	return infos, nil
}

func tabSeq(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "tab"))
	return n
}

func (r *Registry) removeFromOrder(id string) {
	for i, existing := range r.tabOrder {
		if existing == id {
			r.tabOrder = append(r.tabOrder[:i], r.tabOrder[i+1:]...)
			return
		}
	}
}

// CreateSession allocates the next sN id (spec §4.2 create_session).
func (r *Registry) CreateSession(name, ownerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("s%d", r.nextSessionSeq)
	r.nextSessionSeq++
	r.sessions[id] = &session{id: id, name: name, tabIDs: make(map[string]struct{}), ownerID: ownerID}
	return id
}

// DestroySession closes every tab owned by sessionID and removes the session
// (spec §4.2 destroy_session).
func (r *Registry) DestroySession(ctx context.Context, sessionID string) ([]string, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, rpcerr.SessionNotFound(sessionID)
	}
	closedIDs := make([]string, 0, len(s.tabIDs))
	for id := range s.tabIDs {
		closedIDs = append(closedIDs, id)
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for _, id := range closedIDs {
		if err := r.CloseTab(ctx, id); err != nil {
			r.logger.Warn("failed to close tab during session destruction", zap.String("tabId", id), zap.Error(err))
		}
	}
	return closedIDs, nil
}

// DestroySessionsOwnedBy destroys every session created by connID, invoked on
// disconnect (spec §3 Connection: "on close, its auto-session ... is
// destroyed").
func (r *Registry) DestroySessionsOwnedBy(ctx context.Context, connID string) {
	r.mu.Lock()
	var owned []string
	for id, s := range r.sessions {
		if s.ownerID == connID {
			owned = append(owned, id)
		}
	}
	r.mu.Unlock()

	for _, id := range owned {
		if _, err := r.DestroySession(ctx, id); err != nil {
			r.logger.Warn("failed to destroy owned session on disconnect", zap.String("sessionId", id), zap.Error(err))
		}
	}
}

// InstallLearnListenersOnAllTabs implements learn.Hooks: every live tab
// receives the recorder reference and the learn-mode JS (spec §4.7 "instructs
// the registry to install the learn-mode JS into every existing tab").
func (r *Registry) InstallLearnListenersOnAllTabs() error {
	r.mu.RLock()
	recorder := r.recorder
	tabs := make([]*tab.Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, t := range tabs {
		t.SetRecorder(recorder)
		if err := t.StartLearnListeners(context.Background(), learn.Script); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemoveLearnListenersFromAllTabs implements learn.Hooks.
func (r *Registry) RemoveLearnListenersFromAllTabs() error {
	r.mu.RLock()
	tabs := make([]*tab.Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, t := range tabs {
		t.SetRecorder(nil)
		if err := t.StopLearnListeners(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// notifierAdapter satisfies tab.Notifier by translating façade events into
// broadcast notifications (spec §6.2).
type notifierAdapter struct {
	id       string
	notifier Notifier
}

func (a notifierAdapter) NotifyNavigation(tabID, url, title string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Broadcast(jsonrpc.NewNotification("event.navigation", map[string]any{
		"tabId": tabID, "url": url, "title": title,
	}))
}

func (a notifierAdapter) NotifyConsole(tabID, level, message string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Broadcast(jsonrpc.NewNotification("event.console", map[string]any{
		"tabId": tabID, "level": level, "message": message,
	}))
}

func (a notifierAdapter) NotifyError(tabID, message string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Broadcast(jsonrpc.NewNotification("event.error", map[string]any{
		"tabId": tabID, "message": message,
	}))
}

// recorder.go — The learn-mode recorder (spec §4.7): a single process-wide
// idle↔recording state machine that accumulates an action log and the
// screenshots it references on disk. Grounded on the teacher's
// internal/recording.RecordingManager for the state-machine-plus-storage-cap
// shape (recordingStorageUsed tracked against RecordingStorageMax) and on
// internal/redaction for scrubbing captured target descriptors before they
// are persisted.
package learn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/aslan-browser/internal/redaction"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/state"
)

// MaxStorageBytes bounds the total screenshot bytes one recording may write
// to disk; beyond this, actions are still logged but screenshots are
// skipped (SPEC_FULL.md "learn-mode redaction and storage accounting"
// supplement, the same shape as the teacher's RecordingStorageMax).
const MaxStorageBytes = 500 * 1024 * 1024

// State is the recorder's state machine (spec §4.7: "idle → recording →
// idle").
type State int

const (
	StateIdle State = iota
	StateRecording
)

// Action is one entry of the learn-mode action log (spec §4.7).
type Action struct {
	Seq        int             `json:"seq"`
	Timestamp  time.Time       `json:"timestamp"`
	TabID      string          `json:"tabId"`
	Type       string          `json:"type"`
	Target     json.RawMessage `json:"target,omitempty"`
	Screenshot string          `json:"screenshot,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// ActionLog is the result of `learn.stop` (spec §4.7).
type ActionLog struct {
	Name          string        `json:"name"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
	ActionCount   int           `json:"actionCount"`
	ScreenshotDir string        `json:"screenshotDir"`
	Actions       []Action      `json:"actions"`
}

// Hooks lets the registry install/remove the learn-mode bridge JS on every
// live tab when recording starts/stops.
type Hooks interface {
	InstallLearnListenersOnAllTabs() error
	RemoveLearnListenersFromAllTabs() error
}

// Manager is the process-wide learn recorder singleton, owned by the
// registry rather than a free package-level global (spec §3 Tab fields:
// "recorder reference (weak)" implies one shared owner, not ambient state).
type Manager struct {
	mu sync.Mutex

	st        State
	name      string
	startedAt time.Time
	seq       int
	actions   []Action
	dir       string
	storage   int64

	hooks     Hooks
	redactor  *redaction.RedactionEngine
	logger    *zap.Logger
}

func NewManager(hooks Hooks, redactor *redaction.RedactionEngine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{hooks: hooks, redactor: redactor, logger: logger, st: StateIdle}
}

func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st == StateRecording
}

// Start begins a new recording (spec §4.7 learn.start).
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	if m.st == StateRecording {
		m.mu.Unlock()
		return rpcerr.LearnMode("learn recording already in progress")
	}

	dir := state.LearnDir(name)
	if err := os.RemoveAll(dir); err != nil {
		m.mu.Unlock()
		return rpcerr.Internal("clear learn directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.mu.Unlock()
		return rpcerr.Internal("create learn directory", err)
	}

	m.st = StateRecording
	m.name = name
	m.startedAt = time.Now()
	m.seq = 0
	m.actions = nil
	m.dir = dir
	m.storage = 0
	m.mu.Unlock()

	if err := m.hooks.InstallLearnListenersOnAllTabs(); err != nil {
		return rpcerr.LearnMode(fmt.Sprintf("failed to install learn listeners: %v", err))
	}
	return nil
}

// Stop ends the active recording and returns its action log (spec §4.7
// learn.stop).
func (m *Manager) Stop() (ActionLog, error) {
	m.mu.Lock()
	if m.st != StateRecording {
		m.mu.Unlock()
		return ActionLog{}, rpcerr.LearnMode("no learn recording in progress")
	}
	log := ActionLog{
		Name:          m.name,
		StartedAt:     m.startedAt,
		Duration:      time.Since(m.startedAt),
		ActionCount:   len(m.actions),
		ScreenshotDir: m.dir,
		Actions:       append([]Action(nil), m.actions...),
	}
	m.st = StateIdle
	m.mu.Unlock()

	if err := m.hooks.RemoveLearnListenersFromAllTabs(); err != nil {
		m.logger.Warn("failed to remove learn listeners on stop", zap.Error(err))
	}
	return log, nil
}

// bridgeAction is the shape of one learn.action bridge message's payload
// (spec §4.7): a type tag plus a target descriptor with the fields the
// bridge's capture-phase listeners build.
type bridgeAction struct {
	Type   string         `json:"type"`
	Target map[string]any `json:"target"`
}

// RecordAction appends one bridge-originated action (click/input/keydown/
// scroll), redacting its target descriptor and, storage permitting,
// attaching the screenshot the tab captured alongside it (spec §4.7
// "Action processing": the tab, not the recorder, owns the screenshot
// capture — screenshot is already-encoded JPEG bytes by the time it
// reaches here).
func (m *Manager) RecordAction(tabID string, actionJSON json.RawMessage, screenshot []byte) {
	m.mu.Lock()
	if m.st != StateRecording {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	var decoded bridgeAction
	if err := json.Unmarshal(actionJSON, &decoded); err != nil {
		m.logger.Warn("failed to decode learn action payload", zap.Error(err))
		return
	}

	redacted := m.redactTarget(decoded.Target)
	targetJSON, err := json.Marshal(redacted)
	if err != nil {
		m.logger.Warn("failed to marshal learn action target", zap.Error(err))
		targetJSON = nil
	}

	a := Action{TabID: tabID, Type: decoded.Type, Target: targetJSON}
	m.attachScreenshot(screenshot, &a)
	m.append(a)
}

// Note appends a user-supplied annotation with no screenshot
// (spec §4.7 learn.note).
func (m *Manager) Note(tabID, text string) {
	m.append(Action{TabID: tabID, Type: "annotation", Note: text})
}

// OnNavigation, OnTabCreated, OnTabClosed synthesise the registry/engine
// originated actions spec §4.7 requires alongside bridge-observed ones.
func (m *Manager) OnNavigation(tabID string) { m.append(Action{TabID: tabID, Type: "navigation"}) }
func (m *Manager) OnTabCreated(tabID string) { m.append(Action{TabID: tabID, Type: "tab.created"}) }
func (m *Manager) OnTabClosed(tabID string)  { m.append(Action{TabID: tabID, Type: "tab.closed"}) }

func (m *Manager) redactTarget(target map[string]any) map[string]any {
	if m.redactor == nil || target == nil {
		return target
	}
	out := make(map[string]any, len(target))
	for k, v := range target {
		switch val := v.(type) {
		case string:
			out[k] = m.redactor.Redact(val)
		case []any:
			strs := make([]string, 0, len(val))
			allStrings := true
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					allStrings = false
					break
				}
				strs = append(strs, s)
			}
			if allStrings {
				redacted := m.redactor.RedactSlice(strs)
				anys := make([]any, len(redacted))
				for i, s := range redacted {
					anys[i] = s
				}
				out[k] = anys
			} else {
				out[k] = v
			}
		case map[string]any:
			attrs := make(map[string]string, len(val))
			for ak, av := range val {
				if s, ok := av.(string); ok {
					attrs[ak] = s
				}
			}
			redacted := m.redactor.RedactAttributes(attrs)
			anyAttrs := make(map[string]any, len(redacted))
			for ak, av := range redacted {
				anyAttrs[ak] = av
			}
			out[k] = anyAttrs
		default:
			out[k] = v
		}
	}
	return out
}

func (m *Manager) attachScreenshot(data []byte, a *Action) {
	if len(data) == 0 {
		return
	}
	m.mu.Lock()
	if m.storage >= MaxStorageBytes {
		m.mu.Unlock()
		m.logger.Warn("learn-mode storage cap reached, dropping screenshot")
		return
	}
	seq := m.seq
	dir := m.dir
	m.mu.Unlock()

	name := fmt.Sprintf("step-%03d.jpg", seq)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Warn("failed to write learn-mode screenshot", zap.String("path", path), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.storage += int64(len(data))
	m.mu.Unlock()
	a.Screenshot = name
}

func (m *Manager) append(a Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st != StateRecording {
		return
	}
	a.Seq = m.seq
	m.seq++
	a.Timestamp = time.Now()
	m.actions = append(m.actions, a)
}

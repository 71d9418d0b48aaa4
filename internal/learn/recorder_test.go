// recorder_test.go — Tests for the learn-mode recorder state machine.
package learn

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/brennhill/aslan-browser/internal/redaction"
	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/state"
)

type fakeHooks struct {
	installed  int
	removed    int
	installErr error
}

func (f *fakeHooks) InstallLearnListenersOnAllTabs() error {
	f.installed++
	return f.installErr
}

func (f *fakeHooks) RemoveLearnListenersFromAllTabs() error {
	f.removed++
	return nil
}

func withTempLearnRoot(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	os.Setenv("TMPDIR", dir)
}

func TestStartCreatesFreshLearnDir(t *testing.T) {
	withTempLearnRoot(t)
	hooks := &fakeHooks{}
	m := NewManager(hooks, redaction.NewRedactionEngine(""), nil)

	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if !m.IsRecording() {
		t.Fatal("expected IsRecording true after Start")
	}
	if hooks.installed != 1 {
		t.Fatalf("installed = %d, want 1", hooks.installed)
	}
	if _, err := os.Stat(state.LearnDir("rec1")); err != nil {
		t.Fatalf("learn dir not created: %v", err)
	}
}

func TestStartRejectsWhenAlreadyRecording(t *testing.T) {
	withTempLearnRoot(t)
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	err := m.Start("rec2")
	de := rpcerr.AsDomainError(err)
	if de.Kind != rpcerr.KindLearnMode {
		t.Fatalf("kind = %v, want %v", de.Kind, rpcerr.KindLearnMode)
	}
}

func TestStopRejectsWhenNotRecording(t *testing.T) {
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	_, err := m.Stop()
	de := rpcerr.AsDomainError(err)
	if de.Kind != rpcerr.KindLearnMode {
		t.Fatalf("kind = %v, want %v", de.Kind, rpcerr.KindLearnMode)
	}
}

func TestStopReturnsActionLogAndResetsState(t *testing.T) {
	withTempLearnRoot(t)
	hooks := &fakeHooks{}
	m := NewManager(hooks, redaction.NewRedactionEngine(""), nil)
	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"type": "click", "target": map[string]any{"tag": "button"}})
	m.RecordAction("tab0", payload, nil)
	m.Note("tab0", "clicked submit")

	log, err := m.Stop()
	if err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if m.IsRecording() {
		t.Fatal("expected IsRecording false after Stop")
	}
	if log.Name != "rec1" {
		t.Errorf("log.Name = %q, want rec1", log.Name)
	}
	if log.ActionCount != 2 {
		t.Fatalf("ActionCount = %d, want 2", log.ActionCount)
	}
	if hooks.removed != 1 {
		t.Fatalf("removed = %d, want 1", hooks.removed)
	}
	if log.Actions[0].Type != "click" || log.Actions[1].Type != "annotation" {
		t.Errorf("unexpected actions: %+v", log.Actions)
	}
}

func TestRecordActionNoOpsWhenIdle(t *testing.T) {
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	payload, _ := json.Marshal(map[string]any{"type": "click"})
	m.RecordAction("tab0", payload, []byte("jpeg"))
	if len(m.actions) != 0 {
		t.Fatalf("expected no actions recorded while idle, got %d", len(m.actions))
	}
}

func TestRecordActionRedactsStringTargetFields(t *testing.T) {
	withTempLearnRoot(t)
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"type":   "fill",
		"target": map[string]any{"value": "Bearer abcdef123456"},
	})
	m.RecordAction("tab0", payload, nil)

	if len(m.actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(m.actions))
	}
	var target map[string]any
	if err := json.Unmarshal(m.actions[0].Target, &target); err != nil {
		t.Fatalf("unmarshal target: %v", err)
	}
	if target["value"] == "Bearer abcdef123456" {
		t.Errorf("expected bearer token to be redacted, got %v", target["value"])
	}
}

func TestRecordActionWritesScreenshotFile(t *testing.T) {
	withTempLearnRoot(t)
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"type": "click"})
	m.RecordAction("tab0", payload, []byte("fake-jpeg-bytes"))

	if len(m.actions) != 1 || m.actions[0].Screenshot == "" {
		t.Fatalf("expected screenshot filename set, got %+v", m.actions)
	}
	path := filepath.Join(m.dir, m.actions[0].Screenshot)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("screenshot file not written: %v", err)
	}
	if string(data) != "fake-jpeg-bytes" {
		t.Errorf("screenshot contents = %q", data)
	}
}

func TestRecordActionDropsScreenshotOverStorageCap(t *testing.T) {
	withTempLearnRoot(t)
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	m.storage = MaxStorageBytes

	payload, _ := json.Marshal(map[string]any{"type": "click"})
	m.RecordAction("tab0", payload, []byte("over-the-cap"))

	if len(m.actions) != 1 {
		t.Fatalf("expected action still logged, got %d", len(m.actions))
	}
	if m.actions[0].Screenshot != "" {
		t.Errorf("expected screenshot to be dropped over storage cap, got %q", m.actions[0].Screenshot)
	}
}

func TestOnNavigationTabCreatedTabClosedSynthesizeActions(t *testing.T) {
	withTempLearnRoot(t)
	m := NewManager(&fakeHooks{}, redaction.NewRedactionEngine(""), nil)
	if err := m.Start("rec1"); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	m.OnTabCreated("tab0")
	m.OnNavigation("tab0")
	m.OnTabClosed("tab0")

	if len(m.actions) != 3 {
		t.Fatalf("expected 3 synthesized actions, got %d", len(m.actions))
	}
	want := []string{"tab.created", "navigation", "tab.closed"}
	for i, w := range want {
		if m.actions[i].Type != w {
			t.Errorf("actions[%d].Type = %q, want %q", i, m.actions[i].Type, w)
		}
	}
}

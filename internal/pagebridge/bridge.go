// bridge.go — The always-on injected page bridge (spec §4.5). Embedded as a
// Go raw-string JS constant and parsed back with a typed Go struct, the same
// idiom the teacher uses for its state-capture script
// (internal/tools/interact/state.go: StateCaptureScript +
// ParseCapturedStatePayload).
package pagebridge

import (
	"encoding/json"
	"fmt"
)

// BindingName is the CDP binding the bridge posts messages through
// (spec §4.5 "All messages go to the host via a single named channel").
const BindingName = "__aslanBridge"

// MessageType selects the behaviour of one bridge→host message (spec §4.5).
type MessageType string

const (
	MessageDOMStable   MessageType = "domStable"
	MessageNetworkBusy MessageType = "networkBusy"
	MessageNetworkIdle MessageType = "networkIdle"
	MessageLearnAction MessageType = "learnAction"
)

// Message is the decoded payload of one bridge→host post.
type Message struct {
	Type   MessageType     `json:"type"`
	Action json.RawMessage `json:"action,omitempty"` // present only for learnAction
}

// Parse decodes a raw binding payload (the string argument CDP delivers to
// runtime.EventBindingCalled) into a Message.
func Parse(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("pagebridge: decode message: %w", err)
	}
	return m, nil
}

// Script is the bridge JS injected at document-end into every main frame
// (spec §4.5). It is idempotent: a second injection in the same document is
// a no-op, guarded by window.__agent.
const Script = `(() => {
  if (window.__agent) return;

  const agent = window.__agent = {
    pending: 0,
    domStableTimer: null,
  };

  const post = (type, extra) => {
    const msg = Object.assign({ type }, extra || {});
    try {
      window.` + BindingName + `(JSON.stringify(msg));
    } catch (e) {
      // binding not yet attached (e.g. during bridge self-test); drop silently
    }
  };

  const DOM_STABLE_DEBOUNCE_MS = window.__aslanDomStableDebounceMs || 500;

  const scheduleDomStable = () => {
    if (agent.domStableTimer) clearTimeout(agent.domStableTimer);
    agent.domStableTimer = setTimeout(() => {
      agent.domStableTimer = null;
      post('domStable');
    }, DOM_STABLE_DEBOUNCE_MS);
  };

  const observer = new MutationObserver(() => scheduleDomStable());
  const startObserving = () => {
    if (document.body) {
      observer.observe(document.body, { childList: true, subtree: true, attributes: true });
      scheduleDomStable();
    } else {
      document.addEventListener('DOMContentLoaded', startObserving, { once: true });
    }
  };
  startObserving();

  const incPending = () => {
    agent.pending++;
    if (agent.pending === 1) post('networkBusy');
  };
  const decPending = () => {
    agent.pending = Math.max(0, agent.pending - 1);
    if (agent.pending === 0) post('networkIdle');
  };

  const originalFetch = window.fetch;
  if (originalFetch) {
    window.fetch = function (...args) {
      incPending();
      return originalFetch.apply(this, args).finally(decPending);
    };
  }

  const originalOpen = XMLHttpRequest.prototype.open;
  const originalSend = XMLHttpRequest.prototype.send;
  XMLHttpRequest.prototype.open = function (...args) {
    this.__aslanCounted = false;
    return originalOpen.apply(this, args);
  };
  XMLHttpRequest.prototype.send = function (...args) {
    if (!this.__aslanCounted) {
      this.__aslanCounted = true;
      incPending();
      this.addEventListener('loadend', () => decPending(), { once: true });
    }
    return originalSend.apply(this, args);
  };

  agent.waitForSelector = (selector, timeoutMs) => new Promise((resolve, reject) => {
    const existing = document.querySelector(selector);
    if (existing) { resolve(true); return; }

    const obs = new MutationObserver(() => {
      const el = document.querySelector(selector);
      if (el) {
        obs.disconnect();
        clearTimeout(timer);
        resolve(true);
      }
    });
    obs.observe(document.documentElement, { childList: true, subtree: true });

    const timer = setTimeout(() => {
      obs.disconnect();
      reject(new Error('timeout waiting for selector: ' + selector));
    }, timeoutMs);
  });
})();`

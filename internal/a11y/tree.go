// tree.go — Accessibility tree extraction and interaction primitives
// (spec §4.6). The extractor and primitives are embedded JS, evaluated
// through webview.Driver.Evaluate; Go only owns the result shape and the
// @eN / CSS-selector target resolution rule. Embedded-JS-plus-Go-decoder is
// the same idiom as the teacher's internal/tools/interact/state.go.
package a11y

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node is one entry of a flat, ref-tagged accessibility tree (spec §4.6).
type Node struct {
	Ref   string `json:"ref"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	Tag   string `json:"tag"`
	Value string `json:"value,omitempty"`
	Rect  Rect   `json:"rect"`
}

// Rect is an element's bounding client rect at extraction time.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ResolveTarget maps a protocol target string to the selector extractJSON
// sends to the page: a leading "@e" is a previously-extracted ref, resolved
// as an attribute selector; anything else is a raw CSS selector
// (spec §4.3: "Target strings starting with @e are resolved as
// [data-agent-ref="…"]; otherwise treated as a CSS selector").
func ResolveTarget(target string) string {
	if strings.HasPrefix(target, "@e") {
		return fmt.Sprintf(`[data-agent-ref=%q]`, target)
	}
	return target
}

// ParseTree decodes the raw array extractA11yTree() returns.
func ParseTree(raw json.RawMessage) ([]Node, error) {
	var nodes []Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("a11y: decode tree: %w", err)
	}
	return nodes, nil
}

// ExtractScript is extractA11yTree(): a flat, document-order walk that
// assigns monotonic @eN refs (reset each call) and stamps data-agent-ref on
// every included element (spec §4.6).
const ExtractScript = `function extractA11yTree() {
  const INTERACTIVE_SELECTOR = [
    'a[href]', 'button', 'input:not([type="hidden"])', 'select', 'textarea',
    '[role]', '[tabindex]'
  ].join(',');
  const LANDMARK_TAGS = new Set(['NAV', 'MAIN', 'HEADER', 'FOOTER', 'ASIDE', 'FORM', 'TABLE', 'UL', 'OL', 'LI']);
  const HEADING_TAGS = new Set(['H1', 'H2', 'H3', 'H4', 'H5', 'H6']);

  // Implicit-role-from-tag table (spec §4.6 "Role resolution").
  const IMPLICIT_ROLES = {
    A: 'link', BUTTON: 'button', IMG: 'img', SELECT: 'combobox', TEXTAREA: 'textbox',
    NAV: 'navigation', MAIN: 'main', HEADER: 'banner', FOOTER: 'contentinfo',
    ASIDE: 'complementary', FORM: 'form', TABLE: 'table', UL: 'list', OL: 'list', LI: 'listitem',
  };
  const INPUT_TYPE_ROLES = { checkbox: 'checkbox', radio: 'radio', button: 'button', submit: 'button', reset: 'button' };

  function truncate(s, n) {
    if (typeof s !== 'string') return '';
    const collapsed = s.replace(/\s+/g, ' ').trim();
    return collapsed.length > n ? collapsed.slice(0, n) : collapsed;
  }

  function isExcluded(el) {
    if (el.getAttribute('aria-hidden') === 'true') return true;
    const style = getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden') return true;
    const rect = el.getBoundingClientRect();
    if (rect.width === 0 || rect.height === 0) return true;
    return false;
  }

  function implicitRole(el) {
    if (HEADING_TAGS.has(el.tagName)) return 'heading';
    if (el.tagName === 'INPUT') {
      const type = (el.getAttribute('type') || 'text').toLowerCase();
      return INPUT_TYPE_ROLES[type] || 'textbox';
    }
    return IMPLICIT_ROLES[el.tagName] || el.tagName.toLowerCase();
  }

  function resolveRole(el) {
    const explicit = el.getAttribute('role');
    return explicit || implicitRole(el);
  }

  // aria-labelledby may reference multiple space-separated ids; the
  // accessible name concatenates their textContent in order (spec §4.6).
  function labelledByText(el) {
    const ids = (el.getAttribute('aria-labelledby') || '').trim();
    if (!ids) return '';
    return ids.split(/\s+/)
      .map((id) => { const ref = document.getElementById(id); return ref ? ref.textContent.trim() : ''; })
      .filter(Boolean)
      .join(' ')
      .trim();
  }

  function associatedLabelText(el) {
    if (el.labels && el.labels.length > 0) return el.labels[0].textContent.trim();
    const ancestorLabel = el.closest('label');
    return ancestorLabel ? ancestorLabel.textContent.trim() : '';
  }

  // First non-empty wins, in the exact order spec §4.6 lists.
  function accessibleName(el) {
    const ariaLabel = (el.getAttribute('aria-label') || '').trim();
    if (ariaLabel) return ariaLabel;
    const labelledBy = labelledByText(el);
    if (labelledBy) return labelledBy;
    const associated = associatedLabelText(el);
    if (associated) return associated;
    const placeholder = (el.getAttribute('placeholder') || '').trim();
    if (placeholder) return placeholder;
    const title = (el.getAttribute('title') || '').trim();
    if (title) return title;
    return truncate(el.textContent, 80);
  }

  function included(el) {
    if (el.matches(INTERACTIVE_SELECTOR)) return true;
    if (LANDMARK_TAGS.has(el.tagName)) return true;
    if (HEADING_TAGS.has(el.tagName)) return true;
    if (el.tagName === 'IMG') return true;
    return false;
  }

  const nodes = [];
  let refCounter = 0;
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
  let el = walker.currentNode;
  while (el) {
    if (el.nodeType === 1 && included(el) && !isExcluded(el)) {
      const ref = '@e' + refCounter++;
      el.setAttribute('data-agent-ref', ref);
      const rect = el.getBoundingClientRect();
      nodes.push({
        ref,
        role: resolveRole(el),
        name: accessibleName(el),
        tag: el.tagName,
        value: 'value' in el ? String(el.value) : undefined,
        rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
      });
    }
    el = walker.nextNode();
  }
  return nodes;
}`

// InteractionScript defines the click/fill/select/keypress/scroll primitives
// called by name from Go with selector-bound arguments (spec §4.6).
const InteractionScript = `
function __aslanResolve(selector) {
  const el = document.querySelector(selector);
  if (!el) throw new Error('no element matches selector: ' + selector);
  return el;
}

function aslanClick(selector) {
  const el = __aslanResolve(selector);
  el.scrollIntoView({ block: 'center', inline: 'center' });
  el.click();
  return true;
}

function aslanFill(selector, value) {
  const el = __aslanResolve(selector);
  el.focus();
  if ('value' in el) {
    el.value = value;
  } else {
    el.textContent = value;
  }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}

function aslanSelect(selector, value) {
  const el = __aslanResolve(selector);
  el.value = value;
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}

function aslanKeypress(selector, key, modifiers) {
  const el = selector ? __aslanResolve(selector) : document.activeElement;
  const mods = modifiers || {};
  const event = new KeyboardEvent('keydown', {
    key,
    bubbles: true,
    cancelable: true,
    shiftKey: !!mods.shift,
    ctrlKey: !!mods.ctrl,
    altKey: !!mods.alt,
    metaKey: !!mods.meta,
  });
  (el || document.body).dispatchEvent(event);
  return true;
}

function aslanScroll(x, y, selector) {
  if (selector) {
    __aslanResolve(selector).scrollIntoView({ block: 'center', inline: 'center' });
    return true;
  }
  window.scrollTo(x || 0, y || 0);
  return true;
}
`

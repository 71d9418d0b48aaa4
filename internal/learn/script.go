// script.go — The on-demand learn-mode capture JS (spec §4.7), injected only
// while a recording is active. Grounded on the teacher's
// internal/tools/interact/state.go idiom of shipping a JS payload as a Go
// raw-string constant alongside the Go-side type that consumes its output;
// posts through the same always-on channel internal/pagebridge installs
// (window.__aslanBridge), tagged with pagebridge.MessageLearnAction.
package learn

import "github.com/brennhill/aslan-browser/internal/pagebridge"

// Script installs passive capture-phase listeners for click, input, keydown,
// and scroll, each publishing a learnAction message with a target descriptor
// built from the event's composedPath. Idempotent via window.__agentLearn.
const Script = `(() => {
  if (window.__agentLearn) return;
  window.__agentLearn = true;

  const CAPTURED_ATTRS = ['id','class','name','type','role','aria-label','data-testid','placeholder','href','src','action','value','contenteditable'];
  const MODIFIER_KEYS = new Set(['Enter','Tab','Escape','Backspace','Delete']);

  function truncate(s, n) {
    if (typeof s !== 'string') return '';
    const collapsed = s.replace(/\s+/g, ' ').trim();
    return collapsed.length > n ? collapsed.slice(0, n) : collapsed;
  }

  function describePathSegment(el) {
    if (el instanceof ShadowRoot) return '#shadow-root';
    if (!(el instanceof Element)) return String(el);
    let sel = el.tagName.toLowerCase();
    if (el.id) sel += '#' + el.id;
    if (el.className && typeof el.className === 'string') {
      sel += '.' + el.className.trim().split(/\s+/).join('.');
    }
    return sel;
  }

  function composedPathStrings(ev) {
    const path = typeof ev.composedPath === 'function' ? ev.composedPath() : [];
    return path.map(describePathSegment);
  }

  function targetDescriptor(el, ev) {
    const rect = el.getBoundingClientRect ? el.getBoundingClientRect() : {x:0,y:0,width:0,height:0};
    const attrs = {};
    for (const name of CAPTURED_ATTRS) {
      if (el.hasAttribute && el.hasAttribute(name)) attrs[name] = el.getAttribute(name);
    }
    return {
      tagName: el.tagName ? el.tagName.toLowerCase() : '',
      textContent: truncate(el.textContent, 80),
      attributes: attrs,
      rect: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
      composedPath: ev ? composedPathStrings(ev) : [],
    };
  }

  function post(type, action) {
    if (typeof window.` + pagebridge.BindingName + ` !== 'function') return;
    try {
      window.` + pagebridge.BindingName + `(JSON.stringify({type: '` + string(pagebridge.MessageLearnAction) + `', action: Object.assign({type: type}, action)}));
    } catch (e) {}
  }

  document.addEventListener('click', (ev) => {
    if (!ev.target) return;
    post('click', {
      target: targetDescriptor(ev.target, ev),
      clientX: ev.clientX,
      clientY: ev.clientY,
      button: ev.button,
    });
  }, {capture: true, passive: true});

  let inputTimer = null;
  document.addEventListener('input', (ev) => {
    const el = ev.target;
    if (!el) return;
    const descriptor = targetDescriptor(el, ev);
    const value = el.isContentEditable ? truncate(el.textContent, 80) : String(el.value ?? '');
    clearTimeout(inputTimer);
    inputTimer = setTimeout(() => {
      post('input', {target: descriptor, value: value});
    }, 300);
  }, {capture: true, passive: true});

  document.addEventListener('keydown', (ev) => {
    const hasModifier = ev.ctrlKey || ev.metaKey || ev.altKey || ev.shiftKey;
    if (!MODIFIER_KEYS.has(ev.key) && !hasModifier) return;
    if (!ev.target) return;
    post('keydown', {
      target: targetDescriptor(ev.target, ev),
      key: ev.key,
      modifiers: {ctrl: ev.ctrlKey, meta: ev.metaKey, alt: ev.altKey, shift: ev.shiftKey},
    });
  }, {capture: true, passive: true});

  let scrollTimer = null;
  document.addEventListener('scroll', (ev) => {
    clearTimeout(scrollTimer);
    scrollTimer = setTimeout(() => {
      post('scroll', {
        target: ev.target === document ? {tagName: 'document'} : targetDescriptor(ev.target, ev),
        scrollX: window.scrollX,
        scrollY: window.scrollY,
      });
    }, 500);
  }, {capture: true, passive: true});
})();`

// tree_test.go — Tests for target resolution and tree decoding. The
// extractor itself is embedded JS with no Go-side JS runtime to drive it
// against real DOM fixtures, so ExtractScript's fallback order is pinned
// down with source-level assertions instead: each checks that the literal
// construct implementing one spec §4.6 rule is present, so a regression
// that silently drops a fallback step or a role mapping fails the build.
package a11y

import (
	"regexp"
	"strings"
	"testing"
)

func TestResolveTargetRefVsSelector(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{"@e3", `[data-agent-ref="@e3"]`},
		{"#submit", "#submit"},
		{".btn.primary", ".btn.primary"},
	}
	for _, c := range cases {
		if got := ResolveTarget(c.in); got != c.want {
			t.Errorf("ResolveTarget(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseTreeDecodesNodes(t *testing.T) {
	t.Parallel()
	raw := []byte(`[{"ref":"@e0","role":"button","name":"Submit","tag":"button","rect":{"x":1,"y":2,"width":3,"height":4}}]`)
	nodes, err := ParseTree(raw)
	if err != nil {
		t.Fatalf("ParseTree error = %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(nodes))
	}
	if nodes[0].Ref != "@e0" || nodes[0].Role != "button" {
		t.Errorf("unexpected node: %+v", nodes[0])
	}
}

func TestParseTreeRejectsInvalidJSON(t *testing.T) {
	t.Parallel()
	if _, err := ParseTree([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestExtractScriptDefinesFunction(t *testing.T) {
	t.Parallel()
	if ExtractScript == "" {
		t.Fatal("expected non-empty extract script")
	}
}

// TestExtractScriptImplicitRoleTable pins the tag→role mappings spec §4.6
// requires; a tag missing here means an element reports the wrong role.
func TestExtractScriptImplicitRoleTable(t *testing.T) {
	t.Parallel()
	wantPairs := []string{
		"A: 'link'", "BUTTON: 'button'", "IMG: 'img'", "SELECT: 'combobox'",
		"TEXTAREA: 'textbox'", "NAV: 'navigation'", "MAIN: 'main'",
		"HEADER: 'banner'", "FOOTER: 'contentinfo'", "ASIDE: 'complementary'",
		"FORM: 'form'", "TABLE: 'table'", "UL: 'list'", "OL: 'list'", "LI: 'listitem'",
	}
	for _, want := range wantPairs {
		if !strings.Contains(ExtractScript, want) {
			t.Errorf("ExtractScript missing implicit role mapping %q", want)
		}
	}
	if !strings.Contains(ExtractScript, "return 'heading'") {
		t.Error("ExtractScript missing H1-H6 -> heading mapping")
	}
	for _, want := range []string{"checkbox: 'checkbox'", "radio: 'radio'", "button: 'button'", "submit: 'button'", "reset: 'button'"} {
		if !strings.Contains(ExtractScript, want) {
			t.Errorf("ExtractScript missing input-type role mapping %q", want)
		}
	}
}

// TestExtractScriptRoleResolutionPrefersExplicit checks the explicit
// role attribute is still consulted before the implicit table.
func TestExtractScriptRoleResolutionPrefersExplicit(t *testing.T) {
	t.Parallel()
	if !strings.Contains(ExtractScript, "el.getAttribute('role')") {
		t.Error("ExtractScript no longer reads the explicit role attribute")
	}
}

// TestExtractScriptTagIsUppercase guards spec §4.6's "tag (uppercase tag
// name)" field against a regression back to tagName.toLowerCase().
func TestExtractScriptTagIsUppercase(t *testing.T) {
	t.Parallel()
	if !strings.Contains(ExtractScript, "tag: el.tagName,") {
		t.Error("ExtractScript tag field is not the raw (uppercase) tagName")
	}
	if strings.Contains(ExtractScript, "tag: el.tagName.toLowerCase()") {
		t.Error("ExtractScript lowercases tag, contradicting spec's uppercase tag field")
	}
}

// TestExtractScriptNameFallbackOrder checks every step of spec §4.6's name
// resolution chain is present, in order: aria-label, aria-labelledby
// (multi-id concatenation), associated label, placeholder, title, then
// whitespace-collapsed textContent truncated to 80 chars.
func TestExtractScriptNameFallbackOrder(t *testing.T) {
	t.Parallel()
	fn := extractFunctionBody(t, "accessibleName")

	steps := []string{"ariaLabel", "labelledBy", "associated", "placeholder", "title", "truncate(el.textContent, 80)"}
	lastIdx := -1
	for _, step := range steps {
		idx := strings.Index(fn, step)
		if idx == -1 {
			t.Fatalf("accessibleName missing fallback step %q", step)
		}
		if idx <= lastIdx {
			t.Fatalf("accessibleName fallback step %q out of order", step)
		}
		lastIdx = idx
	}
}

// TestExtractScriptLabelledByConcatenatesIDs guards the aria-labelledby
// handling against regressing to a single getElementById lookup.
func TestExtractScriptLabelledByConcatenatesIDs(t *testing.T) {
	t.Parallel()
	fn := extractFunctionBody(t, "labelledByText")
	if !strings.Contains(fn, "split(/\\s+/)") {
		t.Error("labelledByText no longer splits aria-labelledby on whitespace into multiple ids")
	}
	if !strings.Contains(fn, ".join(' ')") {
		t.Error("labelledByText no longer concatenates the referenced ids' textContent")
	}
}

// TestExtractScriptUsesWhitespaceCollapsingTruncate checks the extractor
// shares the whitespace-collapse-then-slice truncate() shape used by
// internal/learn/script.go, rather than a bare slice with no collapsing.
func TestExtractScriptUsesWhitespaceCollapsingTruncate(t *testing.T) {
	t.Parallel()
	fn := extractFunctionBody(t, "truncate")
	if !strings.Contains(fn, `replace(/\s+/g, ' ')`) {
		t.Error("truncate does not collapse internal whitespace")
	}
	if !strings.Contains(fn, "slice(0, n)") {
		t.Error("truncate does not bound its output length")
	}
}

// extractFunctionBody returns the source text of one `function name(...) {
// ... }` defined inside ExtractScript, for assertions scoped to that one
// fallback step rather than the whole multi-hundred-line script.
func extractFunctionBody(t *testing.T, name string) string {
	t.Helper()
	re := regexp.MustCompile(`function ` + name + `\([^)]*\) \{`)
	loc := re.FindStringIndex(ExtractScript)
	if loc == nil {
		t.Fatalf("ExtractScript does not define function %s", name)
	}
	depth := 0
	for i := loc[0]; i < len(ExtractScript); i++ {
		switch ExtractScript[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return ExtractScript[loc[0] : i+1]
			}
		}
	}
	t.Fatalf("unterminated function %s in ExtractScript", name)
	return ""
}

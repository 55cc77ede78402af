package rewrite

import (
	"regexp"
	"strings"
)

// ContainerID is the id of the hidden element injected snippets are
// confined to. Its presence also marks a document as already injected.
const ContainerID = "pxm-isolated-container"

// containerClass mirrors ContainerID for class-based selectors.
const containerClass = "pxm-isolated"

// isolationStyle forcibly hides the container so injected markup never
// affects host-page layout or the CSS cascade.
const isolationStyle = `<style>
#` + ContainerID + `, .` + containerClass + ` {
  display: none !important;
  width: 0 !important;
  height: 0 !important;
  max-width: 0 !important;
  max-height: 0 !important;
  overflow: hidden !important;
  position: absolute !important;
  pointer-events: none !important;
  z-index: -9999 !important;
}
</style>`

// Inject splices the guarded tracking snippet into the document head,
// synthesizing head/html scaffolding when absent. Injecting into a
// document that already carries the container is a no-op, so the
// operation is idempotent and the output always contains exactly one
// injected block.
func Inject(doc []byte, snippet Snippet) []byte {
	content := string(doc)
	if strings.Contains(content, ContainerID) {
		return doc
	}
	block := buildBlock(snippet)
	return []byte(splice(content, block))
}

// buildBlock wraps the snippet code in the deferral/try-catch guard plus
// the isolation style. The guard creates the hidden container and runs the
// snippet only once the page is interactively ready; a snippet failure
// cannot break the host page.
func buildBlock(snippet Snippet) string {
	var b strings.Builder
	b.WriteString("\n<script>\n(function () {\n")
	b.WriteString("  function runTrackingSnippet() {\n")
	b.WriteString("    try {\n")
	b.WriteString("      var c = document.getElementById('" + ContainerID + "');\n")
	b.WriteString("      if (!c) {\n")
	b.WriteString("        c = document.createElement('div');\n")
	b.WriteString("        c.id = '" + ContainerID + "';\n")
	b.WriteString("        c.className = '" + containerClass + "';\n")
	b.WriteString("        (document.body || document.documentElement).appendChild(c);\n")
	b.WriteString("      }\n")
	b.WriteString(indent(snippet.innerCode(), "      "))
	b.WriteString("\n    } catch (e) {}\n")
	b.WriteString("  }\n")
	b.WriteString("  if (document.readyState === 'loading') {\n")
	b.WriteString("    document.addEventListener('DOMContentLoaded', runTrackingSnippet);\n")
	b.WriteString("  } else {\n")
	b.WriteString("    runTrackingSnippet();\n")
	b.WriteString("  }\n")
	b.WriteString("})();\n</script>\n")
	b.WriteString(isolationStyle)
	b.WriteString("\n")
	return b.String()
}

// Splice points are located with case-insensitive regexes rather than a
// lowered copy of the document: ToLower is not byte-length-preserving
// (U+0130 shrinks to one byte), so indexes found in a lowered string do
// not transfer back to the original. The open-tag patterns require a
// space or > after the tag name so <header> never counts as <head>.
var (
	headClosePattern = regexp.MustCompile(`(?i)</head>`)
	headOpenPattern  = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
	htmlOpenPattern  = regexp.MustCompile(`(?i)<html(\s[^>]*)?>`)
)

// splice inserts the block at the best available point, in priority
// order: before </head>, inside an existing <head ...> opening tag,
// after an <html ...> opening tag with a synthesized head, or into a
// fully synthesized document.
func splice(content, block string) string {
	if loc := headClosePattern.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + block + content[loc[0]:]
	}

	if loc := headOpenPattern.FindStringIndex(content); loc != nil {
		return content[:loc[1]] + block + content[loc[1]:]
	}

	if loc := htmlOpenPattern.FindStringIndex(content); loc != nil {
		return content[:loc[1]] + "<head>" + block + "</head>" + content[loc[1]:]
	}

	// No recognizable scaffolding: the original bytes become the body.
	return "<!DOCTYPE html><html><head>" + block + "</head><body>" + content + "</body></html>"
}

func indent(code, prefix string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// Package rewrite transforms fetched documents: relative reference
// resolution and tracking snippet injection.
package rewrite

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// skipPrefixes are value prefixes that must never be rewritten.
var skipPrefixes = []string{"http://", "https://", "http:", "https:", "data:", "#", "javascript:", "mailto:"}

var (
	// attrPattern also accepts unquoted values; the malformed markup the
	// fallback exists for tends to omit quotes.
	attrPattern   = regexp.MustCompile(`(?i)(src|href)(\s*=\s*)("[^"]*"|'[^']*'|[^\s"'<>]+)`)
	srcsetPattern = regexp.MustCompile(`(?i)(srcset)(\s*=\s*)("([^"]*)"|'([^']*)')`)
	stylePattern  = regexp.MustCompile(`(?i)(style)(\s*=\s*)("([^"]*)"|'([^']*)')`)
	cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)
	styleBlock    = regexp.MustCompile(`(?is)(<style[^>]*>)(.*?)(</style>)`)
)

// ResolveRelative rewrites every relative reference in the document to an
// absolute URL against base. It prefers a structural DOM pass and falls
// back to regex rewriting when the parser rejects the input; the fallback
// alters only matched attribute values. The operation is idempotent.
func ResolveRelative(doc []byte, base *url.URL) []byte {
	if base == nil || len(doc) == 0 {
		return doc
	}
	if out, err := resolveStructural(doc, base); err == nil {
		return out
	}
	return resolveWithRegex(doc, base)
}

func resolveStructural(doc []byte, base *url.URL) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			rewriteElement(n, base)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rewriteElement(n *html.Node, base *url.URL) {
	isStyle := strings.EqualFold(n.Data, "style")
	for i, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "src", "href":
			n.Attr[i].Val = Absolutize(attr.Val, base)
		case "srcset":
			n.Attr[i].Val = rewriteSrcset(attr.Val, base)
		case "style":
			n.Attr[i].Val = rewriteCSSURLs(attr.Val, base)
		}
	}
	if isStyle {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				c.Data = rewriteCSSURLs(c.Data, base)
			}
		}
	}
}

// resolveWithRegex is the fallback for markup the structural parser cannot
// handle. Untouched markup passes through byte-identical.
func resolveWithRegex(doc []byte, base *url.URL) []byte {
	out := string(doc)
	out = attrPattern.ReplaceAllStringFunc(out, func(m string) string {
		return replaceAttrValue(m, attrPattern, func(v string) string {
			return Absolutize(v, base)
		})
	})
	out = srcsetPattern.ReplaceAllStringFunc(out, func(m string) string {
		return replaceAttrValue(m, srcsetPattern, func(v string) string {
			return rewriteSrcset(v, base)
		})
	})
	out = stylePattern.ReplaceAllStringFunc(out, func(m string) string {
		return replaceAttrValue(m, stylePattern, func(v string) string {
			return rewriteCSSURLs(v, base)
		})
	})
	out = styleBlock.ReplaceAllStringFunc(out, func(m string) string {
		sub := styleBlock.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		return sub[1] + rewriteCSSURLs(sub[2], base) + sub[3]
	})
	return []byte(out)
}

func replaceAttrValue(match string, re *regexp.Regexp, rewrite func(string) string) string {
	sub := re.FindStringSubmatch(match)
	if sub == nil {
		return match
	}
	token := sub[3]
	quote := ""
	value := token
	if len(token) >= 2 && (token[0] == '"' || token[0] == '\'') {
		quote = token[:1]
		value = token[1 : len(token)-1]
	}
	rewritten := rewrite(value)
	if rewritten == value {
		return match
	}
	return sub[1] + sub[2] + quote + rewritten + quote
}

// Absolutize resolves a single reference value against base. Already
// absolute values, fragments, data, javascript and mailto URIs are left
// untouched; protocol-relative values become https.
func Absolutize(val string, base *url.URL) string {
	v := strings.TrimSpace(val)
	if v == "" {
		return val
	}
	lower := strings.ToLower(v)
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return val
		}
	}
	if strings.HasPrefix(v, "//") {
		return "https:" + v
	}
	ref, err := url.Parse(v)
	if err != nil {
		return val
	}
	return base.ResolveReference(ref).String()
}

// rewriteSrcset rewrites the URL token of each comma-separated srcset
// entry, preserving trailing descriptors like "2x" or "640w".
func rewriteSrcset(val string, base *url.URL) string {
	// data: URLs embed commas; splitting would corrupt them.
	if strings.Contains(strings.ToLower(val), "data:") {
		return val
	}
	entries := strings.Split(val, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Fields(entry)
		fields[0] = Absolutize(fields[0], base)
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

// rewriteCSSURLs rewrites url(...) occurrences inside CSS text.
func rewriteCSSURLs(css string, base *url.URL) string {
	return cssURLPattern.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURLPattern.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		rewritten := Absolutize(sub[2], base)
		if rewritten == sub[2] {
			return m
		}
		return "url(" + sub[1] + rewritten + sub[3] + ")"
	})
}

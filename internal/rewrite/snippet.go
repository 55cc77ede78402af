package rewrite

import (
	"regexp"
	"strings"
)

// Snippet is the tracking code to embed: either a pixel id (expanded into
// the ttq bootstrap) or raw snippet code supplied by the user.
type Snippet struct {
	PixelID string
	Code    string
}

var scriptWrapper = regexp.MustCompile(`(?is)^\s*<script[^>]*>(.*?)</script>\s*`)

// ttqBootstrap is the TikTok pixel loader. The %s placeholder receives the
// pixel id.
const ttqBootstrap = `!function (w, d, t) {
  w.TiktokAnalyticsObject=t;var ttq=w[t]=w[t]||[];ttq.methods=["page","track","identify","instances","debug","on","off","once","ready","alias","group","enableCookie","disableCookie"],ttq.setAndDefer=function(t,e){t[e]=function(){t.push([e].concat(Array.prototype.slice.call(arguments,0)))}};for(var i=0;i<ttq.methods.length;i++)ttq.setAndDefer(ttq,ttq.methods[i]);ttq.instance=function(t){for(var e=ttq._i[t]||[],n=0;n<ttq.methods.length;n++)ttq.setAndDefer(e,ttq.methods[n]);return e},ttq.load=function(e,n){var i="https://analytics.tiktok.com/i18n/pixel/events.js";ttq._i=ttq._i||{},ttq._i[e]=[],ttq._i[e]._u=i,ttq._t=ttq._t||{},ttq._t[e]=+new Date,ttq._o=ttq._o||{},ttq._o[e]=n||{};var o=document.createElement("script");o.type="text/javascript",o.async=!0,o.src=i+"?sdkid="+e+"&lib="+t;var a=document.getElementsByTagName("script")[0];a.parentNode.insertBefore(o,a)};

  ttq.load('%PIXEL_ID%');
  ttq.page();
}(window, document, 'ttq');`

// innerCode returns the bare JavaScript to run inside the guard. Any
// literal <script> wrappers in user-supplied code are stripped so the code
// is never double-wrapped.
func (s Snippet) innerCode() string {
	if s.Code != "" {
		return stripScriptWrappers(s.Code)
	}
	return strings.ReplaceAll(ttqBootstrap, "%PIXEL_ID%", s.PixelID)
}

func stripScriptWrappers(code string) string {
	for {
		sub := scriptWrapper.FindStringSubmatch(code)
		if sub == nil {
			return strings.TrimSpace(code)
		}
		// Only strip when the wrapper spans the whole snippet; a snippet
		// mixing markup and script stays as-is.
		rest := strings.TrimSpace(code[len(sub[0]):])
		if rest != "" {
			return strings.TrimSpace(code)
		}
		code = sub[1]
	}
}

// Package charset decodes fetched page bytes and repairs mojibake.
package charset

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// candidateOrder is the fixed ranking of decodings tried when the declared
// (or default) charset produces garbled text. UTF-8 is always first.
var candidateOrder = []string{"utf-8", "shift_jis", "euc-jp", "cp932", "iso-2022-jp"}

// decoders maps candidate names to concrete decoders. cp932 and shift_jis
// both resolve to the Windows-31J decoder in x/text; keeping both names
// preserves the configured ranking at the cost of one redundant decode.
var decoders = map[string]encoding.Encoding{
	"utf-8":       unicode.UTF8,
	"shift_jis":   japanese.ShiftJIS,
	"euc-jp":      japanese.EUCJP,
	"cp932":       japanese.ShiftJIS,
	"iso-2022-jp": japanese.ISO2022JP,
}

// garblingMarkers are characters that do not occur in correctly decoded
// Japanese text but show up when UTF-8 bytes are misread as Shift_JIS.
// U+FFFD is checked separately.
var garblingMarkers = []rune{'縺', '繧'}

// Result is the outcome of decoding one byte buffer.
type Result struct {
	Text     string
	Encoding string
	// Degraded is set when no candidate cleared the garbling heuristic and
	// the text is a permissive UTF-8 rendering with replacement characters.
	Degraded bool
}

// Repairer decodes raw page bytes, detecting and repairing mojibake by
// re-decoding the original buffer with ranked candidate encodings.
type Repairer struct {
	detector *chardet.Detector
	logger   *zap.Logger
}

// NewRepairer builds a Repairer.
func NewRepairer(logger *zap.Logger) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repairer{
		detector: chardet.NewTextDetector(),
		logger:   logger,
	}
}

// Decode turns raw bytes into text. The declared charset (from the
// Content-Type header) is tried first, then the candidate ranking. All
// retries decode the original byte buffer; a mis-decoded string is never
// re-encoded.
func (r *Repairer) Decode(raw []byte, declared string) Result {
	if len(raw) == 0 {
		return Result{Encoding: "utf-8"}
	}

	if declared != "" {
		if text, ok := decodeWith(raw, declared); ok && !Garbled(text) {
			return Result{Text: text, Encoding: normalizeName(declared)}
		}
	}

	for _, name := range r.rankedCandidates(raw) {
		if normalizeName(declared) == name {
			continue
		}
		text, ok := decodeWith(raw, name)
		if !ok {
			continue
		}
		if Garbled(text) {
			continue
		}
		if name != "utf-8" {
			r.logger.Info("repaired garbled decoding", zap.String("encoding", name))
		}
		return Result{Text: text, Encoding: name}
	}

	// Nothing cleared the heuristic: degrade to permissive UTF-8.
	r.logger.Warn("no candidate encoding cleared garbling heuristic, using permissive utf-8")
	return Result{
		Text:     strings.ToValidUTF8(string(raw), string(utf8.RuneError)),
		Encoding: "utf-8",
		Degraded: true,
	}
}

// rankedCandidates returns the candidate list, promoting the chardet best
// guess when it is confident and already one of our candidates.
func (r *Repairer) rankedCandidates(raw []byte) []string {
	best, err := r.detector.DetectBest(raw)
	if err != nil || best == nil || best.Confidence < 80 {
		return candidateOrder
	}
	name := normalizeName(best.Charset)
	if _, ok := decoders[name]; !ok || name == "utf-8" {
		return candidateOrder
	}
	ranked := make([]string, 0, len(candidateOrder))
	ranked = append(ranked, "utf-8", name)
	for _, c := range candidateOrder {
		if c != "utf-8" && c != name {
			ranked = append(ranked, c)
		}
	}
	return ranked
}

// Garbled reports whether decoded text shows mojibake: replacement
// characters or either fixed marker character.
func Garbled(text string) bool {
	if strings.ContainsRune(text, utf8.RuneError) {
		return true
	}
	for _, marker := range garblingMarkers {
		if strings.ContainsRune(text, marker) {
			return true
		}
	}
	return false
}

// decodeWith decodes raw bytes with the named encoding. Unknown names are
// resolved through the WHATWG html index so server-declared aliases like
// "Windows-31J" still work.
func decodeWith(raw []byte, name string) (string, bool) {
	name = normalizeName(name)
	enc, ok := decoders[name]
	if !ok {
		var err error
		enc, err = htmlindex.Get(name)
		if err != nil {
			return "", false
		}
	}
	if name == "utf-8" {
		// x/text's UTF-8 decoder replaces invalid sequences; validate
		// strictly so garbled input falls through to the candidates.
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "utf8":
		return "utf-8"
	case "shift-jis", "sjis", "x-sjis":
		return "shift_jis"
	case "windows-31j", "ms932":
		return "cp932"
	case "eucjp", "x-euc-jp":
		return "euc-jp"
	}
	return name
}

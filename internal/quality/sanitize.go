package quality

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var numericPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Each encoding layer of an entity-escaped tag needs one extra pass.
const maxMarkupPasses = 5

// SanitizeValue walks a decoded JSON value and defangs every leaf: numeric
// strings become numbers and any other scalar becomes plain text.
func SanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(typed))
		for key, child := range typed {
			cleaned[SanitizeText(key)] = SanitizeValue(child)
		}
		return cleaned
	case []any:
		cleaned := make([]any, 0, len(typed))
		for _, child := range typed {
			cleaned = append(cleaned, SanitizeValue(child))
		}
		return cleaned
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(typed)
	case float64, int, int64:
		return typed
	case json.Number:
		if parsed, err := typed.Float64(); err == nil {
			return parsed
		}
		return SanitizeText(typed.String())
	case string:
		trimmed := strings.TrimSpace(typed)
		if numericPattern.MatchString(trimmed) {
			if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return parsed
			}
		}
		return SanitizeText(typed)
	default:
		return ""
	}
}

// SanitizeText strips markup (dropping script and style bodies), removes
// invalid UTF-8 and control characters, and collapses whitespace. Markup
// hidden behind character entities is stripped as well.
func SanitizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	if strings.ContainsAny(text, "<&") {
		text = stripMarkupUntilStable(text)
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	return strings.Join(strings.Fields(cleaned), " ")
}

// stripMarkupUntilStable reruns stripMarkup because decoding entities can
// produce new tags. Text that is still changing after the last pass is
// escaped instead.
func stripMarkupUntilStable(text string) string {
	for pass := 0; pass < maxMarkupPasses; pass++ {
		stripped := stripMarkup(text)
		if stripped == text || !strings.ContainsAny(stripped, "<&") {
			return stripped
		}
		text = stripped
	}
	return html.EscapeString(text)
}

func stripMarkup(text string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(text))
	builder := strings.Builder{}
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return builder.String()
		case html.StartTagToken:
			if isRawTextTag(tokenizer) {
				skipDepth++
			}
			builder.WriteByte(' ')
		case html.EndTagToken:
			if isRawTextTag(tokenizer) && skipDepth > 0 {
				skipDepth--
			}
			builder.WriteByte(' ')
		case html.SelfClosingTagToken:
			builder.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				builder.Write(tokenizer.Text())
			}
		}
	}
}

func isRawTextTag(tokenizer *html.Tokenizer) bool {
	name, _ := tokenizer.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Iframe, atom.Noscript:
		return true
	default:
		return false
	}
}

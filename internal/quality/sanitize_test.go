package quality

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTextStripsMarkup(t *testing.T) {
	cases := map[string]string{
		"<p>Cash <em>visibility</em></p>":             "Cash visibility",
		"Risk<style>p{color:red}</style> level":        "Risk level",
		"line one\nline two\t\ttabbed":                 "line one line two tabbed",
		"R&amp;D spend &lt; budget":                    "R&D spend < budget",
		"ROI < 5% expected":                            "ROI < 5% expected",
		"bad\xffbyte":                                  "badbyte",
		"  <img src=x onerror=alert(1)>Summary text  ": "Summary text",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, SanitizeText(input), "input %q", input)
	}
}

func TestSanitizeTextStripsEntityEncodedMarkup(t *testing.T) {
	cases := map[string]string{
		"&lt;script&gt;alert(1)&lt;/script&gt;":                 "",
		"&lt;img src=x onerror=alert(1)&gt;":                    "",
		"Plan &lt;img src=x onerror=alert(1)&gt;ahead":          "Plan ahead",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;": "",
		"&#60;iframe src=evil&#62;&#60;/iframe&#62;Cash":        "Cash",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, SanitizeText(input), "input %q", input)
	}

	sanitized := SanitizeValue(map[string]any{
		"note":  "&lt;img src=x onerror=alert(1)&gt;",
		"items": []any{"&lt;script&gt;steal()&lt;/script&gt;Keep"},
	}).(map[string]any)
	assert.Equal(t, "", sanitized["note"])
	assert.Equal(t, []any{"Keep"}, sanitized["items"])
}

func TestSanitizeValueConvertsLeaves(t *testing.T) {
	sanitized := SanitizeValue(map[string]any{
		"amount":   " 42.5 ",
		"negative": "-3",
		"year":     json.Number("2026"),
		"label":    "12 months",
		"flag":     false,
		"missing":  nil,
		"items":    []any{"7", "<i>text</i>"},
	}).(map[string]any)

	assert.Equal(t, 42.5, sanitized["amount"])
	assert.Equal(t, -3.0, sanitized["negative"])
	assert.Equal(t, 2026.0, sanitized["year"])
	assert.Equal(t, "12 months", sanitized["label"])
	assert.Equal(t, "false", sanitized["flag"])
	assert.Equal(t, "", sanitized["missing"])
	assert.Equal(t, []any{7.0, "text"}, sanitized["items"])
}

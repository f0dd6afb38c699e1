package voice

import (
	"regexp"
	"strings"
	"unicode"
)

type markupRule struct {
	pattern *regexp.Regexp
	replace string
}

// Applied in order: code first so its contents never reach the link and
// URL rules.
var speechMarkupRules = []markupRule{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^[ \t]*(?:[-*•]|\d+[.)])[ \t]+`), ""},
}

var speechSymbolSpacer = strings.NewReplacer(
	"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
	"#", " ", "~", " ", "<", " ", ">", " ",
)

type runeAction int

const (
	runeKeep runeAction = iota
	runeDrop
	runeSpace
)

// speakableText reduces assistant text to what a synthesizer should read
// aloud: no markup, links, code, emoji or stray symbols, single spaced.
func speakableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, rule := range speechMarkupRules {
		raw = rule.pattern.ReplaceAllString(raw, rule.replace)
	}
	raw = speechSymbolSpacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false
	for _, r := range raw {
		switch classifySpeechRune(r) {
		case runeDrop:
		case runeSpace:
			pendingSpace = b.Len() > 0
		case runeKeep:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func classifySpeechRune(r rune) runeAction {
	switch {
	case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		return runeDrop
	case unicode.IsSpace(r):
		return runeSpace
	case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return runeDrop
	}
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return runeKeep
	}
	if unicode.IsPunct(r) {
		return runeSpace
	}
	return runeKeep
}

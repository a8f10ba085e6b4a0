package markers

import "strings"

// SectionKind normalizes the free-form section headers agents write inside a
// ->continuity:save body into the fixed ledger slots a restart context uses.
type SectionKind string

const (
	SectionSummary   SectionKind = "summary"
	SectionDone      SectionKind = "done"
	SectionDoing     SectionKind = "doing"
	SectionNext      SectionKind = "next"
	SectionBlockers  SectionKind = "blockers"
	SectionFiles     SectionKind = "files"
	SectionDecisions SectionKind = "decisions"
	SectionUncertain SectionKind = "uncertain"
	SectionUnknown   SectionKind = ""
)

// sectionAliases maps the header text an agent might write, lowercased and
// trimmed, to its normalized slot. Agents are inconsistent about phrasing
// ("What's done" vs "Completed" vs "Done") so this list is intentionally
// generous.
var sectionAliases = map[string]SectionKind{
	"summary":              SectionSummary,
	"overview":             SectionSummary,
	"done":                 SectionDone,
	"completed":            SectionDone,
	"what's done":          SectionDone,
	"what you've done":     SectionDone,
	"finished":             SectionDone,
	"previously completed": SectionDone,
	"doing":                SectionDoing,
	"in progress":          SectionDoing,
	"current":              SectionDoing,
	"next":                 SectionNext,
	"next steps":           SectionNext,
	"todo":                 SectionNext,
	"blockers":             SectionBlockers,
	"blocked":              SectionBlockers,
	"issues":               SectionBlockers,
	"stuck":                SectionBlockers,
	"files":                SectionFiles,
	"files touched":        SectionFiles,
	"files changed":        SectionFiles,
	"context":              SectionFiles,
	"file context":         SectionFiles,
	"relevant files":       SectionFiles,
	"key files":            SectionFiles,
	"decisions":            SectionDecisions,
	"key decisions":        SectionDecisions,
	"decided":              SectionDecisions,
	"prior decisions":      SectionDecisions,
	"uncertain":            SectionUncertain,
	"unconfirmed":          SectionUncertain,
	"needs verification":   SectionUncertain,
	"to verify":            SectionUncertain,
}

// NormalizeSection maps a raw "## Header" or "### Header" capture to a
// ledger slot. Unknown headers return SectionUnknown — callers should keep
// the raw header text as a free-form note rather than discard it.
func NormalizeSection(raw string) SectionKind {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimRight(key, ":")
	if kind, ok := sectionAliases[key]; ok {
		return kind
	}
	return SectionUnknown
}

// SaveBlock is the structured result of parsing a ->continuity:save body
// against the grammar in : section headers introduce a slot,
// bullets and key/value lines accumulate under the current slot until the
// next header.
type SaveBlock struct {
	Sections map[SectionKind][]string // normalized slot -> ordered lines
	Raw      map[string][]string      // raw (unrecognized) header -> ordered lines
	KeyValue map[string]string        // bold key: value pairs anywhere, plain ones outside a section, keyed lowercase
}

// ParseSaveBlock walks a save-block body line by line applying the grammar:
// "## "/"### " lines open a new section; "- " lines and bullet-glyph lines
// are list items; "**Key**: value" and "Key: value" lines are key/value pairs.
// A bold key/value line also closes the current section; a plain one is only
// read as a key/value pair outside a section. Blank lines are skipped: they
// are never emitted as content and do not close the current section.
func ParseSaveBlock(body string) *SaveBlock {
	sb := &SaveBlock{
		Sections: make(map[SectionKind][]string),
		Raw:      make(map[string][]string),
		KeyValue: make(map[string]string),
	}

	var (
		curKind SectionKind
		curRaw  string
		inSlot  bool
	)

	appendLine := func(content string) {
		if content == "" {
			return
		}
		if !inSlot {
			if m := boldKVRe.FindStringSubmatch(content); m != nil {
				sb.KeyValue[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
				return
			}
			if m := plainKVRe.FindStringSubmatch(content); m != nil {
				sb.KeyValue[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
				return
			}
			return
		}
		if curKind != SectionUnknown {
			sb.Sections[curKind] = append(sb.Sections[curKind], content)
		} else {
			sb.Raw[curRaw] = append(sb.Raw[curRaw], content)
		}
	}

	for _, line := range strings.Split(body, "\n") {
		if m := sectionHeaderRe.FindStringSubmatch(line); m != nil {
			header := strings.TrimSpace(m[2])
			curKind = NormalizeSection(header)
			curRaw = header
			inSlot = true
			continue
		}

		content := line
		if m := bulletItemRe.FindStringSubmatch(line); m != nil {
			content = strings.TrimSpace(m[1])
		} else if m := boldKVRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			sb.KeyValue[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
			inSlot = false
			continue
		}
		content = bulletGlyphRe.ReplaceAllString(strings.TrimSpace(content), "")
		appendLine(strings.TrimSpace(content))
	}

	return sb
}

// IsPlaceholder reports whether value is one of the known placeholder
// tokens agents emit when they haven't filled in a field — checked against
// the configurable denylist plus the fixed regex variants ("...", "[...]").
func IsPlaceholder(value string, denylist []string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return true
	}
	if placeholderDotsRe.MatchString(v) || placeholderBracketRe.MatchString(v) {
		return true
	}
	for _, d := range denylist {
		if strings.EqualFold(v, d) {
			return true
		}
	}
	return false
}

// FilterPlaceholders removes placeholder entries from a slice of lines,
// preserving order.
func FilterPlaceholders(lines []string, denylist []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if !IsPlaceholder(l, denylist) {
			out = append(out, l)
		}
	}
	return out
}

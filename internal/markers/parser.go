package markers

import (
	"strconv"
	"strings"
)

// Kind identifies which structured artifact a parsed command represents.
type Kind string

const (
	KindRelay       Kind = "relay"
	KindSpawn       Kind = "spawn"
	KindRelease     Kind = "release"
	KindContinuity  Kind = "continuity"
	KindSummary     Kind = "summary"
	KindSessionEnd  Kind = "session_end"
)

// ContinuityVerb enumerates the ->continuity: command family.
type ContinuityVerb string

const (
	VerbSave      ContinuityVerb = "save"
	VerbLoad      ContinuityVerb = "load"
	VerbSearch    ContinuityVerb = "search"
	VerbUncertain ContinuityVerb = "uncertain"
	VerbHandoff   ContinuityVerb = "handoff"
)

// Command is the sum type returned by ParseLine. Exactly one of the typed
// fields is non-nil, selected by Kind — a tagged sum suits the relayed
// envelope and the same shape suits the command parser.
type Command struct {
	Kind Kind

	Relay      *RelayCommand
	Spawn      *SpawnCommand
	Release    *ReleaseCommand
	Continuity *ContinuityCommand
}

// RelayCommand is a ->relay:<to> <body> or fenced equivalent.
type RelayCommand struct {
	To   string
	Body string
}

// SpawnCommand is ->relay:spawn <name> <cli> "<task>".
type SpawnCommand struct {
	Name string
	CLI  string
	Task string
}

// ReleaseCommand is ->relay:release <name>.
type ReleaseCommand struct {
	Name string
}

// ContinuityCommand is one of the ->continuity:<verb> forms.
type ContinuityCommand struct {
	Verb    ContinuityVerb
	Handoff bool   // only meaningful for VerbSave
	Body    string // save/handoff raw body
	Query   string // search query
	Item    string // uncertain item text
}

// ParseLine attempts to match a single (already joined) line against every
// recognised command form. Order matters: spawn/release are more specific
// than the generic relay form and must be tried first.
func ParseLine(line string) (Command, bool) {
	line = strings.TrimRight(line, "\r\n")

	if m := spawnLineRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindSpawn, Spawn: &SpawnCommand{Name: m[1], CLI: m[2], Task: m[3]}}, true
	}
	if m := spawnFencedRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindSpawn, Spawn: &SpawnCommand{Name: m[1], CLI: m[2], Task: strings.TrimSpace(m[3])}}, true
	}
	if m := releaseLineRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindRelease, Release: &ReleaseCommand{Name: m[1]}}, true
	}

	if m := continuitySaveLineRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindContinuity, Continuity: &ContinuityCommand{
			Verb: VerbSave, Handoff: strings.TrimSpace(m[1]) == "--handoff", Body: m[2],
		}}, true
	}
	if m := continuityHandoffRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindContinuity, Continuity: &ContinuityCommand{Verb: VerbHandoff, Body: m[1]}}, true
	}
	if continuityLoadRe.MatchString(line) {
		return Command{Kind: KindContinuity, Continuity: &ContinuityCommand{Verb: VerbLoad}}, true
	}
	if m := continuitySearchLineRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindContinuity, Continuity: &ContinuityCommand{Verb: VerbSearch, Query: m[1]}}, true
	}
	if m := continuitySearchFenceRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindContinuity, Continuity: &ContinuityCommand{Verb: VerbSearch, Query: strings.TrimSpace(m[1])}}, true
	}
	if m := continuityUncertainRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindContinuity, Continuity: &ContinuityCommand{Verb: VerbUncertain, Item: m[1]}}, true
	}

	if m := relayFencedRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindRelay, Relay: &RelayCommand{To: m[1], Body: m[2]}}, true
	}
	if m := relayLineRe.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindRelay, Relay: &RelayCommand{To: m[1], Body: m[2]}}, true
	}

	return Command{}, false
}

// ExtractSummaryBlocks returns the raw body of every [[SUMMARY]] block found
// in text, in order.
func ExtractSummaryBlocks(text string) []string {
	matches := summaryBlockRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ExtractSessionEndBlocks returns the raw body of every [[SESSION_END]] block.
func ExtractSessionEndBlocks(text string) []string {
	matches := sessionEndBlockRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// JoinContinuationLines implements the continuation-line joining rule from
// : a line whose stripped content begins with a recognised prefix
// is extended by subsequent indented lines that carry no bullet or prefix of
// their own, joined with "\n". Returns the logical lines to run ParseLine
// over.
func JoinContinuationLines(lines []string) []string {
	var out []string
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !anyPrefixLineRe.MatchString(strings.TrimSpace(prefixOnly(line))) && !hasCommandPrefix(line) {
			out = append(out, line)
			i++
			continue
		}
		joined := line
		j := i + 1
		for j < len(lines) {
			next := lines[j]
			if next == "" {
				break
			}
			if bulletLineRe.MatchString(next) || hasCommandPrefix(next) || strings.HasPrefix(strings.TrimSpace(next), "[[") {
				break
			}
			if !continuationLineRe.MatchString(next) {
				break
			}
			joined += "\n" + strings.TrimSpace(next)
			j++
		}
		out = append(out, joined)
		i = j
	}
	return out
}

func hasCommandPrefix(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, DefaultRelayPrefix) || strings.HasPrefix(t, DefaultContinuityPrefix)
}

// prefixOnly exists only to keep JoinContinuationLines's guard readable; the
// anyPrefixLineRe check above is redundant with hasCommandPrefix for the
// marker prefixes but also recognises "[[" block openers.
func prefixOnly(line string) string { return strings.TrimSpace(line) }

// FileContextRef is one entry of a parsed "files" list: a path with an
// optional line range.
type FileContextRef struct {
	Path      string
	StartLine int // 0 if absent
	EndLine   int // 0 if absent
}

// ParseFileContextEntry parses "<path>[:<start>[-<end>]]".
func ParseFileContextEntry(entry string) FileContextRef {
	m := fileContextRe.FindStringSubmatch(entry)
	if m == nil {
		return FileContextRef{Path: entry}
	}
	ref := FileContextRef{Path: m[1]}
	if m[2] != "" {
		ref.StartLine, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		ref.EndLine, _ = strconv.Atoi(m[3])
	}
	return ref
}

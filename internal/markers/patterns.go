// Package markers recognizes and extracts the structured artifacts an agent
// emits inline in its terminal output: [[SUMMARY]]/[[SESSION_END]] blocks,
// ->relay:/->continuity: commands, and the save-block grammar used inside
// continuity commands. Patterns are centralized here so the PTY Wrapper's
// continuation-line joining and the Parser's line matching share the same
// vocabulary, following the same compiled-pattern centralization idiom used
// for prompt/turn-detection matching elsewhere in this codebase.
package markers

import "regexp"

const (
	// DefaultRelayPrefix is the default inline relay command prefix.
	DefaultRelayPrefix = "->relay:"
	// DefaultContinuityPrefix is the default inline continuity command prefix.
	DefaultContinuityPrefix = "->continuity:"
)

var (
	summaryBlockRe    = regexp.MustCompile(`(?s)\[\[SUMMARY\]\]\n?(.*?)\n?\[\[/SUMMARY\]\]`)
	sessionEndBlockRe = regexp.MustCompile(`(?s)\[\[SESSION_END\]\]\n?(.*?)\n?\[\[/SESSION_END\]\]`)

	// Single-line relay: ->relay:<to> <body>
	relayLineRe = regexp.MustCompile(`^->relay:([^\s]+)\s+(.+)$`)
	// Fenced relay: ->relay:<to> <<<\n<body>\n>>>  (body captured non-greedily, dotall)
	relayFencedRe = regexp.MustCompile(`(?s)^->relay:([^\s]+)\s*<<<\n?(.*?)\n?>>>\s*$`)

	spawnLineRe   = regexp.MustCompile(`^->relay:spawn\s+(\S+)\s+(\S+)\s+"(.*)"\s*$`)
	spawnFencedRe = regexp.MustCompile(`(?s)^->relay:spawn\s+(\S+)\s+(\S+)\s*<<<\n?(.*?)\n?>>>\s*$`)
	releaseLineRe = regexp.MustCompile(`^->relay:release\s+(\S+)\s*$`)

	continuitySaveLineRe   = regexp.MustCompile(`(?s)^->continuity:save(\s+--handoff)?\s*<<<\n?(.*?)\n?>>>\s*$`)
	continuityHandoffRe    = regexp.MustCompile(`(?s)^->continuity:handoff\s*<<<\n?(.*?)\n?>>>\s*$`)
	continuityLoadRe       = regexp.MustCompile(`^->continuity:load\s*$`)
	continuitySearchLineRe = regexp.MustCompile(`^->continuity:search\s+"([^"]*)"\s*$`)
	continuitySearchFenceRe = regexp.MustCompile(`(?s)^->continuity:search\s*<<<\n?(.*?)\n?>>>\s*$`)
	continuityUncertainRe  = regexp.MustCompile(`^->continuity:uncertain\s+"([^"]*)"\s*$`)

	// continuation-line joining: an indented follow-on line with no bullet/prefix of its own.
	continuationLineRe = regexp.MustCompile(`^\s{2,}\S`)
	bulletLineRe        = regexp.MustCompile(`^\s*[-*✓⚠❓]\s`)
	anyPrefixLineRe      = regexp.MustCompile(`^(->relay:|->continuity:|\[\[)`)

	// Save-block grammar.
	sectionHeaderRe = regexp.MustCompile(`^(#{2,3})\s+(.+)$`)
	bulletItemRe    = regexp.MustCompile(`^-\s+(.+)$`)
	bulletGlyphRe   = regexp.MustCompile(`^[✓⚠❓]\s*`)
	boldKVRe        = regexp.MustCompile(`^\*\*([^*]+?)\*\*:?\s*:?\s*(.*)$`)
	plainKVRe       = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _-]*?):\s*(.+)$`)

	// Placeholder variants beyond the fixed denylist.
	placeholderDotsRe    = regexp.MustCompile(`^\.{2,}$`)
	placeholderBracketRe = regexp.MustCompile(`^\[\.{3}\]$`)

	fileContextRe = regexp.MustCompile(`^(.+?)(?::(\d+)(?:-(\d+))?)?$`)
)

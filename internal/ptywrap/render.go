package ptywrap

import "strings"

// bracketedPasteStart/End wrap injected bodies for CLIs that honour
// bracketed paste mode, preventing the child's line editor from
// reinterpreting pasted newlines as separate keystrokes.
const (
	bracketedPasteStart = "\x1b[200~"
	bracketedPasteEnd   = "\x1b[201~"
)

// Render turns a queued Message into the exact bytes written to the child
// PTY, not counting the trailing CR submit sequence (written separately so
// the configured submit delay can be honoured). The layout is opaque to the
// child but stable, so out-of-band tooling watching the transcript can
// pattern-match a relayed message.
func Render(msg *Message) string {
	var b strings.Builder
	b.WriteString(bracketedPasteStart)
	b.WriteString("[relay from=")
	b.WriteString(msg.From)
	if msg.Thread != "" {
		b.WriteString(" thread=")
		b.WriteString(msg.Thread)
	}
	b.WriteString("]\n")
	b.WriteString(msg.Body)
	b.WriteString(bracketedPasteEnd)
	return b.String()
}

package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_Relay(t *testing.T) {
	cmd, ok := ParseLine("->relay:backend please check the auth middleware")
	require.True(t, ok)
	require.Equal(t, KindRelay, cmd.Kind)
	assert.Equal(t, "backend", cmd.Relay.To)
	assert.Equal(t, "please check the auth middleware", cmd.Relay.Body)
}

func TestParseLine_RelayFenced(t *testing.T) {
	cmd, ok := ParseLine("->relay:#qa <<<\nrun the regression suite\nand report back\n>>>")
	require.True(t, ok)
	require.Equal(t, KindRelay, cmd.Kind)
	assert.Equal(t, "#qa", cmd.Relay.To)
	assert.Equal(t, "run the regression suite\nand report back", cmd.Relay.Body)
}

func TestParseLine_Spawn(t *testing.T) {
	cmd, ok := ParseLine(`->relay:spawn reviewer claude "review the open PRs"`)
	require.True(t, ok)
	require.Equal(t, KindSpawn, cmd.Kind)
	assert.Equal(t, "reviewer", cmd.Spawn.Name)
	assert.Equal(t, "claude", cmd.Spawn.CLI)
	assert.Equal(t, "review the open PRs", cmd.Spawn.Task)
}

func TestParseLine_Release(t *testing.T) {
	cmd, ok := ParseLine("->relay:release reviewer")
	require.True(t, ok)
	require.Equal(t, KindRelease, cmd.Kind)
	assert.Equal(t, "reviewer", cmd.Release.Name)
}

func TestParseLine_ContinuitySave(t *testing.T) {
	cmd, ok := ParseLine("->continuity:save --handoff <<<\n## Done\n- shipped the parser\n>>>")
	require.True(t, ok)
	require.Equal(t, KindContinuity, cmd.Kind)
	assert.Equal(t, VerbSave, cmd.Continuity.Verb)
	assert.True(t, cmd.Continuity.Handoff)
	assert.Contains(t, cmd.Continuity.Body, "shipped the parser")
}

func TestParseLine_ContinuityLoad(t *testing.T) {
	cmd, ok := ParseLine("->continuity:load")
	require.True(t, ok)
	assert.Equal(t, VerbLoad, cmd.Continuity.Verb)
}

func TestParseLine_ContinuitySearch(t *testing.T) {
	cmd, ok := ParseLine(`->continuity:search "auth middleware"`)
	require.True(t, ok)
	assert.Equal(t, VerbSearch, cmd.Continuity.Verb)
	assert.Equal(t, "auth middleware", cmd.Continuity.Query)
}

func TestParseLine_Uncertain(t *testing.T) {
	cmd, ok := ParseLine(`->continuity:uncertain "is the retry cap 2s or 5s?"`)
	require.True(t, ok)
	assert.Equal(t, VerbUncertain, cmd.Continuity.Verb)
	assert.Equal(t, "is the retry cap 2s or 5s?", cmd.Continuity.Item)
}

func TestParseLine_NoMatch(t *testing.T) {
	_, ok := ParseLine("just some regular agent output")
	assert.False(t, ok)
}

func TestExtractSummaryBlocks(t *testing.T) {
	text := "preamble\n[[SUMMARY]]\nfirst summary\n[[/SUMMARY]]\nmiddle\n[[SUMMARY]]\nsecond\n[[/SUMMARY]]\n"
	blocks := ExtractSummaryBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, "first summary", blocks[0])
	assert.Equal(t, "second", blocks[1])
}

func TestExtractSessionEndBlocks(t *testing.T) {
	text := "[[SESSION_END]]\nwrapping up\n[[/SESSION_END]]"
	blocks := ExtractSessionEndBlocks(text)
	require.Len(t, blocks, 1)
	assert.Equal(t, "wrapping up", blocks[0])
}

func TestJoinContinuationLines(t *testing.T) {
	lines := []string{
		"->relay:backend the migration needs",
		"  a second pass on indexes",
		"  before it's safe to run",
		"next unrelated line",
	}
	joined := JoinContinuationLines(lines)
	require.Len(t, joined, 2)
	assert.Equal(t, "->relay:backend the migration needs\na second pass on indexes\nbefore it's safe to run", joined[0])
	assert.Equal(t, "next unrelated line", joined[1])
}

func TestParseFileContextEntry(t *testing.T) {
	ref := ParseFileContextEntry("internal/relay/relay.go:42-58")
	assert.Equal(t, "internal/relay/relay.go", ref.Path)
	assert.Equal(t, 42, ref.StartLine)
	assert.Equal(t, 58, ref.EndLine)

	ref2 := ParseFileContextEntry("README.md")
	assert.Equal(t, "README.md", ref2.Path)
	assert.Equal(t, 0, ref2.StartLine)
}

func TestParseSaveBlock(t *testing.T) {
	body := "## Done\n- shipped parser\n- wired config\n\n## Next\n- build ptywrap\n\n**Blocker**: none"
	sb := ParseSaveBlock(body)
	assert.Equal(t, []string{"shipped parser", "wired config"}, sb.Sections[SectionDone])
	assert.Equal(t, []string{"build ptywrap"}, sb.Sections[SectionNext])
}

func TestIsPlaceholder(t *testing.T) {
	denylist := defaultDenylistForTest()
	assert.True(t, IsPlaceholder("...", denylist))
	assert.True(t, IsPlaceholder("TBD", denylist))
	assert.True(t, IsPlaceholder("[...]", denylist))
	assert.True(t, IsPlaceholder("", denylist))
	assert.False(t, IsPlaceholder("wired the NATS event bridge", denylist))
}

func defaultDenylistForTest() []string {
	return []string{"...", "....", "task1", "item1", "src/file1.ts", "TBD", "TODO", "N/A", "none", "placeholder"}
}

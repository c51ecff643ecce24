package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRule(t *testing.T) {
	assert.Equal(t, "ls -la", NormalizeRule("  ls   -la "))
	assert.Equal(t, "git status", NormalizeRule("git\tstatus"))
	assert.Equal(t, "", NormalizeRule("   "))
}

func TestMatchesPrefixTokenBoundary(t *testing.T) {
	assert.True(t, MatchesPrefix("ls", "ls"))
	assert.True(t, MatchesPrefix("ls", "ls -la"))
	assert.True(t, MatchesPrefix("git status", "git status --short"))

	// "ls" must never authorize "lsblk".
	assert.False(t, MatchesPrefix("ls", "lsblk"))
	assert.False(t, MatchesPrefix("git status", "git stash"))
	assert.False(t, MatchesPrefix("", "ls"))
	assert.False(t, MatchesPrefix("ls", ""))
}

func TestMatchesPrefixNormalizes(t *testing.T) {
	assert.True(t, MatchesPrefix(" ls  -la ", "ls -la"))
	assert.True(t, MatchesPrefix("ls", "ls    -la"))
}

func TestSubjectsForShellCommand(t *testing.T) {
	subjects := subjectsFor(Request{Command: "ls -la | grep foo && rm -rf /tmp/x"})
	assert.ElementsMatch(t, []string{"ls -la", "grep foo", "rm -rf /tmp/x"}, subjects)
}

func TestSubjectsForUnparseableCommandFallsBackToLiteral(t *testing.T) {
	subjects := subjectsFor(Request{Command: "ls -la 'unterminated"})
	assert.Equal(t, []string{"ls -la 'unterminated"}, subjects)
}

func TestSubjectsForPaths(t *testing.T) {
	subjects := subjectsFor(Request{Paths: []string{"/a", "/b"}})
	assert.Equal(t, []string{"/a", "/b"}, subjects)
}

func TestDefaultRulesFirstSubcommand(t *testing.T) {
	rules := DefaultRules(Request{Command: "git push origin main"})
	assert.Equal(t, []string{"git push"}, rules)

	// Flags do not become part of the proposed rule.
	rules = DefaultRules(Request{Command: "ls -la"})
	assert.Equal(t, []string{"ls"}, rules)
}

func TestDefaultRulesDeduplicates(t *testing.T) {
	rules := DefaultRules(Request{Command: "git status && git status --short"})
	assert.Equal(t, []string{"git status"}, rules)
}

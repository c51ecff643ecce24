package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleCommand(t *testing.T) {
	commands, err := ParseCommands("ls -la /tmp")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "ls", commands[0].Name)
	assert.Equal(t, []string{"-la", "/tmp"}, commands[0].Args)
}

func TestParsePipelineAndList(t *testing.T) {
	commands, err := ParseCommands("cat go.mod | grep module; echo done && false")
	require.NoError(t, err)

	var names []string
	for _, c := range commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"cat", "grep", "echo", "false"}, names)
}

func TestParseCommandSubstitutionIsVisible(t *testing.T) {
	commands, err := ParseCommands("echo $(rm -rf /tmp/x)")
	require.NoError(t, err)

	var names []string
	for _, c := range commands {
		names = append(names, c.Name)
	}
	// The inner command must surface so rules can see it.
	assert.Contains(t, names, "rm")
}

func TestParseQuoting(t *testing.T) {
	commands, err := ParseCommands(`grep 'a b' "c d" plain`)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, []string{"a b", "c d", "plain"}, commands[0].Args)
}

func TestParseVariableStaysOpaque(t *testing.T) {
	commands, err := ParseCommands("rm $TARGET")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, []string{"$TARGET"}, commands[0].Args)
}

func TestParseMalformed(t *testing.T) {
	_, err := ParseCommands("echo 'unterminated")
	assert.Error(t, err)
}

func TestIsWithinDir(t *testing.T) {
	assert.True(t, IsWithinDir("/a/b/c", "/a/b"))
	assert.True(t, IsWithinDir("/a/b", "/a/b"))
	assert.False(t, IsWithinDir("/a/bc", "/a/b"))
	assert.False(t, IsWithinDir("/a", "/a/b"))
	assert.False(t, IsWithinDir("/a/b/../../etc", "/a/b"))
}

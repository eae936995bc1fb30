package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDir(t *testing.T) {
	require.NoError(t, ValidateDir(DirContent{{Path: "world/level.dat"}, {Path: "server.properties"}}))
	for _, bad := range []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", "./a", `a\b`} {
		assert.ErrorIs(t, ValidateDir(DirContent{{Path: bad}}), ErrInvalidPath, bad)
	}
	assert.ErrorIs(t, ValidateDir(DirContent{{Path: "a"}, {Path: "a"}}), ErrInvalidPath)
}

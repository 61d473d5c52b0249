package validator

import (
	"testing"

	"agentgw/internal/apperrors"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedSpec(t *testing.T) {
	spec := ServerSpec{
		ServerID:   "fs",
		ServerName: "files",
		Command:    "npx",
		Args:       []string{"-y", "mcp-server-filesystem", "/tmp/workdir"},
	}
	require.NoError(t, Validate(spec))
}

func TestValidateRejectsUnknownCommand(t *testing.T) {
	spec := ServerSpec{ServerID: "x", Command: "bash", Args: nil}
	err := Validate(spec)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidationUnknownCommand))
}

func TestValidateRejectsCommandInjectionAttempt(t *testing.T) {
	spec := ServerSpec{
		ServerID: "x",
		Command:  "python",
		Args:     []string{"-c", "import os; os.system('id')"},
	}
	err := Validate(spec)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidationBadArg))
}

func TestValidateRejectsShellMetacharacters(t *testing.T) {
	cases := []string{";", "|", "`", "$(", "../etc/passwd", "null\x00byte"}
	for _, c := range cases {
		spec := ServerSpec{ServerID: "x", Command: "node", Args: []string{c}}
		err := Validate(spec)
		require.Error(t, err, "expected rejection for %q", c)
	}
}

func TestValidateRejectsPathTraversal(t *testing.T) {
	spec := ServerSpec{ServerID: "x", Command: "node", Args: []string{"~/secrets"}}
	err := Validate(spec)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidationPathTraversal))
}

func TestValidateRejectsBlockedEnvKey(t *testing.T) {
	for _, key := range []string{"LD_PRELOAD", "PATH", "PYTHONPATH", "DYLD_INSERT_LIBRARIES"} {
		spec := ServerSpec{
			ServerID: "x",
			Command:  "node",
			Env:      map[string]string{key: "evil"},
		}
		err := Validate(spec)
		require.True(t, apperrors.IsKind(err, apperrors.KindValidationBadEnvKey), "expected rejection for %s", key)
	}
}

func TestValidateRejectsTooManyArgs(t *testing.T) {
	args := make([]string, 51)
	for i := range args {
		args[i] = "a"
	}
	spec := ServerSpec{ServerID: "x", Command: "node", Args: args}
	err := Validate(spec)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidationTooMany))
}

func TestValidateRejectsTooManyEnvEntries(t *testing.T) {
	env := make(map[string]string, 51)
	for i := 0; i < 51; i++ {
		env[string(rune('A'+(i%26)))+"X"] = "v"
	}
	// map key collisions from the formula above are fine; pad to 51 distinct keys.
	env = make(map[string]string, 51)
	for i := 0; i < 51; i++ {
		env[envKeyFor(i)] = "v"
	}
	spec := ServerSpec{ServerID: "x", Command: "node", Env: env}
	err := Validate(spec)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidationTooMany))
}

func envKeyFor(i int) string {
	return "VAR_" + string(rune('A'+(i%26))) + string(rune('0'+(i/26)))
}

func TestValidateIsDeterministic(t *testing.T) {
	spec := ServerSpec{ServerID: "fs", Command: "npx", Args: []string{"-y", "pkg"}}
	err1 := Validate(spec)
	err2 := Validate(spec)
	require.Equal(t, err1, err2)
}

func TestValidateRejectsBadServerID(t *testing.T) {
	spec := ServerSpec{ServerID: "has space", Command: "npx"}
	err := Validate(spec)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidationBadServerID))
}

// Package validator implements the gateway's input-validation boundary
// (spec §4.A): pure, side-effect-free rejection of unsafe ServerSpecs before
// any subprocess is ever launched.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"agentgw/internal/apperrors"
)

// ServerSpec mirrors the user-supplied declaration of one MCP server
// (spec §3).
type ServerSpec struct {
	ServerID   string            `json:"server_id"`
	ServerName string            `json:"server_name"`
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
}

const (
	maxArgs       = 50
	maxEnvEntries = 50
	maxArgLen     = 1024
	maxEnvValLen  = 1024
)

var serverIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
var envKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,127}$`)

// baseArgCharClass is shared by every whitelisted command.
const baseArgCharClass = `A-Za-z0-9_@./:=,\-+`

var baseArgPattern = regexp.MustCompile(`^[` + baseArgCharClass + `]*$`)

// commandArgPattern gives docker a small additional allowance for image
// references (colons and slashes are already in the base class; docker also
// needs '@' digests, which are already covered too, so its extra set is
// effectively empty beyond the base — kept as its own entry for clarity and
// so a future command-specific carve-out has an obvious home).
var commandArgPattern = map[string]*regexp.Regexp{
	"npx":    baseArgPattern,
	"uvx":    baseArgPattern,
	"uv":     baseArgPattern,
	"node":   baseArgPattern,
	"python": baseArgPattern,
	"docker": baseArgPattern,
}

// envKeyBlocklist rejects process-hijacking environment overrides (spec
// §4.A: "loader preloads, search paths, interpreter home overrides,
// locale/TLS-cert overrides").
var envKeyBlocklist = map[string]bool{
	"LD_PRELOAD":       true,
	"LD_LIBRARY_PATH":  true,
	"DYLD_INSERT_LIBRARIES": true,
	"DYLD_LIBRARY_PATH":     true,
	"PATH":             true,
	"PYTHONPATH":       true,
	"PYTHONHOME":       true,
	"NODE_PATH":        true,
	"NODE_OPTIONS":     true,
	"LANG":             true,
	"LC_ALL":           true,
	"SSL_CERT_FILE":    true,
	"SSL_CERT_DIR":     true,
	"NODE_EXTRA_CA_CERTS": true,
	"REQUESTS_CA_BUNDLE":  true,
}

func hasDynldPrefix(key string) bool {
	return strings.HasPrefix(key, "DYLD_")
}

// shellMetacharacters are always rejected in args and env values, regardless
// of the command-specific character class.
const shellMetacharacters = ";|&`$(){}<>'\"\n\r\x00"

// Validate runs validate_spec: the full set of checks from spec §4.A against
// a single ServerSpec. Validation is a pure function: identical input always
// yields an identical verdict (spec §8, invariant 4).
func Validate(spec ServerSpec) error {
	if !serverIDPattern.MatchString(spec.ServerID) {
		return apperrors.New(apperrors.KindValidationBadServerID,
			fmt.Sprintf("server_id %q must match [A-Za-z0-9_-]{1,64}", spec.ServerID))
	}

	argPattern, ok := commandArgPattern[spec.Command]
	if !ok {
		return apperrors.New(apperrors.KindValidationUnknownCommand,
			fmt.Sprintf("command %q is not in the whitelist", spec.Command))
	}

	if err := validateArgsForCommand(spec.Command, argPattern, spec.Args); err != nil {
		return err
	}
	if err := ValidateEnv(spec.Env); err != nil {
		return err
	}
	return nil
}

// ValidateArgsForCommand runs validate_args_for_command for an already
// resolved command.
func ValidateArgsForCommand(command string, args []string) error {
	pattern, ok := commandArgPattern[command]
	if !ok {
		return apperrors.New(apperrors.KindValidationUnknownCommand,
			fmt.Sprintf("command %q is not in the whitelist", command))
	}
	return validateArgsForCommand(command, pattern, args)
}

func validateArgsForCommand(command string, pattern *regexp.Regexp, args []string) error {
	if len(args) > maxArgs {
		return apperrors.New(apperrors.KindValidationTooMany,
			fmt.Sprintf("%d args exceeds the limit of %d", len(args), maxArgs))
	}

	for _, arg := range args {
		if len(arg) > maxArgLen {
			return apperrors.New(apperrors.KindValidationBadArg,
				fmt.Sprintf("argument exceeds %d characters", maxArgLen))
		}
		if strings.ContainsAny(arg, shellMetacharacters) {
			return apperrors.New(apperrors.KindValidationBadArg,
				fmt.Sprintf("argument %q contains a disallowed shell metacharacter", arg))
		}
		if err := checkPathTraversal(arg); err != nil {
			return err
		}
		if !pattern.MatchString(arg) {
			return apperrors.New(apperrors.KindValidationBadArg,
				fmt.Sprintf("argument %q contains characters outside the %s whitelist", arg, command))
		}
	}
	return nil
}

// checkPathTraversal rejects "../" segments, a leading "~/", or an absolute
// path outside the allowlisted workspace roots (spec §4.A).
func checkPathTraversal(arg string) error {
	if strings.Contains(arg, "../") || strings.HasPrefix(arg, "~/") {
		return apperrors.New(apperrors.KindValidationPathTraversal,
			fmt.Sprintf("argument %q attempts path traversal", arg))
	}
	if strings.HasPrefix(arg, "/") && !isAllowedWorkspaceRoot(arg) {
		return apperrors.New(apperrors.KindValidationPathTraversal,
			fmt.Sprintf("argument %q is an absolute path outside the allowlisted workspace roots", arg))
	}
	return nil
}

// AllowedWorkspaceRoots are the absolute path prefixes a ServerSpec arg is
// permitted to reference. Deployments that need additional roots should
// extend this via configuration rather than widening it process-wide by
// default.
var AllowedWorkspaceRoots = []string{"/tmp", "/workspace", "/var/mcp"}

func isAllowedWorkspaceRoot(arg string) bool {
	for _, root := range AllowedWorkspaceRoots {
		if arg == root || strings.HasPrefix(arg, root+"/") {
			return true
		}
	}
	return false
}

// ValidateEnv runs validate_env: key format, blocklist, value charset, and
// size ceiling checks.
func ValidateEnv(env map[string]string) error {
	if len(env) > maxEnvEntries {
		return apperrors.New(apperrors.KindValidationTooMany,
			fmt.Sprintf("%d env entries exceeds the limit of %d", len(env), maxEnvEntries))
	}

	for key, value := range env {
		if !envKeyPattern.MatchString(key) {
			return apperrors.New(apperrors.KindValidationBadEnvKey,
				fmt.Sprintf("env key %q must match ^[A-Z][A-Z0-9_]{0,127}$", key))
		}
		if envKeyBlocklist[key] || hasDynldPrefix(key) {
			return apperrors.New(apperrors.KindValidationBadEnvKey,
				fmt.Sprintf("env key %q is blocked (process-hijacking risk)", key))
		}
		if len(value) > maxEnvValLen {
			return apperrors.New(apperrors.KindValidationBadEnvValue,
				fmt.Sprintf("env value for %q exceeds %d characters", key, maxEnvValLen))
		}
		if strings.ContainsAny(value, shellMetacharacters) {
			return apperrors.New(apperrors.KindValidationBadEnvValue,
				fmt.Sprintf("env value for %q contains a disallowed shell metacharacter", key))
		}
	}
	return nil
}

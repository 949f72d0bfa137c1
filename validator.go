package netagent

import (
	"fmt"
	"strings"
)

// defaultAllowedPrefixes lists read-only query verbs accepted as the first
// token of a command.
var defaultAllowedPrefixes = []string{
	"show",
	"display",
	"get",
	"dir",
	"more",
	"ping",
	"traceroute",
	"trace",
}

// defaultDeniedSubstrings lists mutating or otherwise dangerous fragments
// that reject a command outright, wherever they appear.
var defaultDeniedSubstrings = []string{
	"configure",
	"config t",
	"conf t",
	"reload",
	"reboot",
	"shutdown",
	"erase",
	"delete",
	"format",
	"write",
	"copy",
	"clear",
	"debug",
	"terminal monitor",
	"rm ",
	"mkdir",
}

const defaultMaxCommandLength = 512

// CommandValidator classifies a command string as permitted or denied under
// a static read-only policy. It holds no mutable state and is safe for
// concurrent use.
type CommandValidator struct {
	allowedPrefixes  []string
	deniedSubstrings []string
	maxLength        int
}

// NewCommandValidator returns a validator with the default read-only policy.
func NewCommandValidator() *CommandValidator {
	return &CommandValidator{
		allowedPrefixes:  defaultAllowedPrefixes,
		deniedSubstrings: defaultDeniedSubstrings,
		maxLength:        defaultMaxCommandLength,
	}
}

// Validate checks command against the policy and returns the first violated
// rule's reason. It is called once per batch invocation, never per device.
func (v *CommandValidator) Validate(command string) (bool, string) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false, "command is empty"
	}
	if len(trimmed) > v.maxLength {
		return false, fmt.Sprintf("command exceeds maximum length of %d characters", v.maxLength)
	}
	lower := strings.ToLower(trimmed)
	for _, denied := range v.deniedSubstrings {
		if strings.Contains(lower, denied) {
			return false, fmt.Sprintf("command contains denied keyword %q", strings.TrimSpace(denied))
		}
	}
	first := strings.Fields(lower)[0]
	for _, prefix := range v.allowedPrefixes {
		if first == prefix || strings.HasPrefix(first, prefix) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("command verb %q is not in the read-only allowlist", first)
}

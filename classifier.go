package netagent

import "strings"

// Severity levels attached to classified errors.
const (
	SeverityInfo   = "info"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Error categories. Transport-category failures are eligible for one retry
// after connection eviction; everything else is terminal on first failure.
const (
	CategoryConnection = "connection"
	CategoryAuth       = "auth"
	CategoryCommand    = "command"
	CategoryResource   = "resource"
	CategorySecurity   = "security"
	CategoryFilter     = "filter"
	CategoryUnknown    = "unknown"
)

// ErrorDetail is the classified form of a raw failure message. It annotates
// failures for diagnostics and never alters control flow.
type ErrorDetail struct {
	Type       string `json:"type"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	Suggestion string `json:"suggestion"`
}

type classifierRule struct {
	patterns []string
	detail   ErrorDetail
}

// classifierRules is priority ordered: the first rule with a matching
// pattern wins.
var classifierRules = []classifierRule{
	{
		patterns: []string{"timed out", "timeout", "deadline exceeded"},
		detail: ErrorDetail{
			Type:       "connection_timeout",
			Category:   CategoryConnection,
			Severity:   SeverityMedium,
			Suggestion: "check device reachability and increase the command timeout if the device is slow",
		},
	},
	{
		patterns: []string{"connection refused"},
		detail: ErrorDetail{
			Type:       "connection_refused",
			Category:   CategoryConnection,
			Severity:   SeverityHigh,
			Suggestion: "verify the management service is enabled on the device and the port is correct",
		},
	},
	{
		patterns: []string{"no route to host", "unreachable", "name resolution", "no such host"},
		detail: ErrorDetail{
			Type:       "host_unreachable",
			Category:   CategoryConnection,
			Severity:   SeverityHigh,
			Suggestion: "verify the device address and the network path from this host",
		},
	},
	{
		patterns: []string{"authentication failed", "auth fail", "permission denied (publickey", "unable to authenticate", "invalid password"},
		detail: ErrorDetail{
			Type:       "authentication_failed",
			Category:   CategoryAuth,
			Severity:   SeverityHigh,
			Suggestion: "verify the credential reference for this device and rotate credentials if expired",
		},
	},
	{
		patterns: []string{"invalid input", "invalid command", "unknown command", "syntax error"},
		detail: ErrorDetail{
			Type:       "invalid_command",
			Category:   CategoryCommand,
			Severity:   SeverityInfo,
			Suggestion: "check the command syntax against the device platform documentation",
		},
	},
	{
		patterns: []string{"incomplete command"},
		detail: ErrorDetail{
			Type:       "incomplete_command",
			Category:   CategoryCommand,
			Severity:   SeverityInfo,
			Suggestion: "the command needs additional arguments",
		},
	},
	{
		patterns: []string{"ambiguous command"},
		detail: ErrorDetail{
			Type:       "ambiguous_command",
			Category:   CategoryCommand,
			Severity:   SeverityInfo,
			Suggestion: "spell out the command verb in full to disambiguate",
		},
	},
	{
		patterns: []string{"permission denied", "not authorized", "privilege"},
		detail: ErrorDetail{
			Type:       "permission_denied",
			Category:   CategoryAuth,
			Severity:   SeverityMedium,
			Suggestion: "the account lacks the privilege level required for this command",
		},
	},
	{
		patterns: []string{"resource busy", "device busy", "too many sessions", "session limit"},
		detail: ErrorDetail{
			Type:       "resource_busy",
			Category:   CategoryResource,
			Severity:   SeverityMedium,
			Suggestion: "retry later or lower the batch concurrency for this device",
		},
	},
	{
		patterns: []string{"denied by policy", "blocked by policy", "security violation", "read-only policy"},
		detail: ErrorDetail{
			Type:       "security_violation",
			Category:   CategorySecurity,
			Severity:   SeverityHigh,
			Suggestion: "the command is outside the read-only policy; use an approved query command",
		},
	},
}

var unknownErrorDetail = ErrorDetail{
	Type:       "unknown_error",
	Category:   CategoryUnknown,
	Severity:   SeverityMedium,
	Suggestion: "inspect the raw error message and device logs",
}

// ErrorClassifier maps raw failure messages to a fixed taxonomy by
// deterministic substring matching.
type ErrorClassifier struct {
	rules []classifierRule
}

// NewErrorClassifier returns a classifier with the built-in rule table.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{rules: classifierRules}
}

// Classify returns the taxonomy entry for raw. Unmatched messages map to
// unknown_error with medium severity.
func (c *ErrorClassifier) Classify(raw string) ErrorDetail {
	lower := strings.ToLower(raw)
	for _, rule := range c.rules {
		for _, pattern := range rule.patterns {
			if strings.Contains(lower, pattern) {
				return rule.detail
			}
		}
	}
	return unknownErrorDetail
}

// IsTransport reports whether detail describes a transport-level failure
// eligible for a single retry after connection eviction.
func IsTransport(detail ErrorDetail) bool {
	return detail.Category == CategoryConnection
}

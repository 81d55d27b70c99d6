package domain

import "strings"

// DegradationPolicyMode enumerates supported degradation behaviors for cache-dependent flows.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient lets the operation proceed when the cache cannot answer.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects the operation whenever the cache cannot answer.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// DegradationPolicy decides, per endpoint class, whether rate limiting fails open or closed
// while the backing cache is unavailable.
type DegradationPolicy struct {
	fallback DegradationPolicyMode
	classes  map[string]DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided default mode and the classes that must fail closed.
func NewDegradationPolicy(mode DegradationPolicyMode, strictClasses ...string) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	classes := make(map[string]DegradationPolicyMode, len(strictClasses))
	for _, class := range strictClasses {
		class = strings.ToLower(strings.TrimSpace(class))
		if class == "" {
			continue
		}
		classes[class] = DegradationPolicyModeStrict
	}
	return DegradationPolicy{fallback: mode, classes: classes}
}

// Mode returns the mode applied to class.
func (p DegradationPolicy) Mode(class string) DegradationPolicyMode {
	if mode, ok := p.classes[strings.ToLower(class)]; ok {
		return mode
	}
	if p.fallback == "" {
		return DegradationPolicyModeLenient
	}
	return p.fallback
}

// FailsOpen reports whether a degraded check for class should admit the request.
func (p DegradationPolicy) FailsOpen(class string) bool {
	return p.Mode(class) != DegradationPolicyModeStrict
}

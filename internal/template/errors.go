package template

import "errors"

// Sentinel errors for the render.* taxonomy (spec §7). Hosts classify
// failures with errors.Is against these.
var (
	// ErrParse is a template/expression syntax error.
	ErrParse = errors.New("template: parse error")
	// ErrEval is a runtime evaluation failure (type mismatch, division
	// by zero, etc). Suppressible in graceful mode.
	ErrEval = errors.New("template: eval error")
	// ErrFilter is an unknown filter or a filter's own runtime error.
	// Never suppressed, even in graceful mode.
	ErrFilter = errors.New("template: filter error")
	// ErrLimitExceeded is a hard security-limit violation. Never
	// suppressed.
	ErrLimitExceeded = errors.New("template: limit exceeded")
)

// Package transform validates the operations string a NamedTransformation
// preset stores, grounded on the original system's
// ImageTransformUrlParser::parse_operations and validate_no_preset_reference
// checks: the string is a slash-delimited chain of operation/argument pairs
// (resize/300x200/format/webp/quality/80), and it may never itself reference
// another preset, since presets don't nest.
package transform

import (
	"fmt"
	"strings"

	"mindia/internal/apperror"
)

// knownOperations enumerates the operation keywords a preset's chain may
// use. preset is deliberately absent: a preset can't reference another
// preset, so the keyword itself is invalid inside stored operations.
var knownOperations = map[string]bool{
	"resize":     true,
	"crop":       true,
	"format":     true,
	"quality":    true,
	"rotate":     true,
	"flip":       true,
	"watermark":  true,
	"smart_crop": true,
	"filter":     true,
	"blur":       true,
	"sharpen":    true,
}

// Validate checks operations for syntax errors and the no-recursion
// invariant from the data model: operations never contain a reference to
// another preset. An empty string is rejected — a preset with no operations
// has nothing to alias.
func Validate(operations string) error {
	trimmed := strings.TrimSpace(operations)
	if trimmed == "" {
		return apperror.InvalidInput("operations must not be empty")
	}

	segments := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(segments)%2 != 0 {
		return apperror.InvalidInput("operations must be a sequence of operation/argument pairs")
	}

	for i := 0; i < len(segments); i += 2 {
		key := strings.ToLower(strings.TrimSpace(segments[i]))
		arg := strings.TrimSpace(segments[i+1])
		if key == "preset" {
			return apperror.InvalidInput("operations must not reference another preset")
		}
		if !knownOperations[key] {
			return apperror.InvalidInput(fmt.Sprintf("unknown operation %q", key))
		}
		if arg == "" {
			return apperror.InvalidInput(fmt.Sprintf("operation %q is missing its argument", key))
		}
	}
	return nil
}

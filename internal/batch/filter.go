package batch

import (
	"fmt"
	"path"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
)

// Filter selects files by their slash-separated path relative to the batch
// root. Excludes win over includes; an empty include list admits everything.
//
// Patterns follow path.Match, plus a trailing "/" for "anything under this
// directory" and a single "**" for "any number of path segments".
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether rel passes the filter.
func (f Filter) Match(rel string) bool {
	for _, pattern := range f.Exclude {
		if matchPattern(rel, pattern) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matchPattern(rel, pattern) {
			return true
		}
	}
	return false
}

// Validate rejects malformed patterns.
func (f Filter) Validate() error {
	for _, pattern := range append(append([]string(nil), f.Include...), f.Exclude...) {
		if strings.Count(pattern, "**") > 1 {
			return invalidPattern(pattern, "at most one ** is supported")
		}
		if _, err := path.Match(strings.ReplaceAll(pattern, "**", "*"), "x"); err != nil {
			return invalidPattern(pattern, err.Error())
		}
	}
	return nil
}

func invalidPattern(pattern, reason string) error {
	return errors.NewError("filter", errors.ErrInvalidInput).
		WithMessage(fmt.Sprintf("pattern %q: %s", pattern, reason))
}

func matchPattern(rel, pattern string) bool {
	if dir, ok := strings.CutSuffix(pattern, "/"); ok {
		return strings.HasPrefix(rel+"/", dir+"/")
	}

	if prefix, suffix, ok := strings.Cut(pattern, "**"); ok {
		if !strings.HasPrefix(rel, prefix) {
			return false
		}
		rest := rel[len(prefix):]
		if suffix == "" {
			return true
		}
		// the suffix may itself contain single-segment wildcards
		for i := 0; i <= len(rest); i++ {
			if ok, _ := path.Match(suffix, rest[i:]); ok {
				return true
			}
		}
		return false
	}

	ok, err := path.Match(pattern, rel)
	return err == nil && ok
}

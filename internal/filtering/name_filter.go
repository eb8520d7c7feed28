package filtering

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"
)

type pattern struct {
	source string
	glob   glob.Glob
}

// NameFilter matches package names against compiled include and exclude patterns
type NameFilter struct {
	include []pattern
	exclude []pattern
}

// NewNameFilter compiles the patterns. Every invalid pattern is reported.
func NewNameFilter(include, exclude []string) (*NameFilter, error) {
	var errs []error
	compile := func(kind string, sources []string) []pattern {
		compiled := make([]pattern, 0, len(sources))
		for _, src := range sources {
			g, err := glob.Compile(src)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s pattern '%s': %w", kind, src, err))
				continue
			}
			compiled = append(compiled, pattern{source: src, glob: g})
		}
		return compiled
	}

	f := &NameFilter{
		include: compile("include", include),
		exclude: compile("exclude", exclude),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f, nil
}

// ShouldInclude determines if a package may be tracked
//
// Logic:
// 1. If name matches any exclude pattern -> exclude (exclude takes precedence)
// 2. If include patterns are specified and name matches one -> include
// 3. If include patterns are specified and name matches none -> exclude
// 4. Otherwise -> include
//
// Returns (shouldInclude bool, reason string). A nil filter includes everything.
func (f *NameFilter) ShouldInclude(name string) (bool, string) {
	if f == nil {
		return true, "no name filters specified"
	}

	for _, p := range f.exclude {
		if p.glob.Match(name) {
			return false, fmt.Sprintf("excluded by pattern '%s'", p.source)
		}
	}

	if len(f.include) > 0 {
		for _, p := range f.include {
			if p.glob.Match(name) {
				return true, fmt.Sprintf("included by pattern '%s'", p.source)
			}
		}
		return false, "no match found in include patterns"
	}

	if len(f.exclude) > 0 {
		return true, "no match in exclude patterns"
	}
	return true, "no name filters specified"
}

// Check returns an error naming the reason when name is filtered out
func (f *NameFilter) Check(name string) error {
	if ok, reason := f.ShouldInclude(name); !ok {
		return fmt.Errorf("package %s is not tracked: %s", name, reason)
	}
	return nil
}

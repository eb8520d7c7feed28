// Package filtering decides which packages the server agrees to track.
//
// Operators restrict tracking with include and exclude glob patterns
// matched against the full package name, scope included:
//
//   - "@internal/*" matches every package of the @internal scope
//   - "react*" matches "react", "react-dom", "react-router"
//   - "lodash.?" matches "lodash.a" but not "lodash.merge"
//
// Exclude patterns take precedence. When include patterns are set a name
// must match at least one of them. With no patterns every name is allowed.
//
// Patterns use github.com/gobwas/glob, whose '*' also matches across the
// '/' of scoped names.
package filtering

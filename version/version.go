// Package version carries the protocol and application version constants
// (spec.md §6.1, §6.2). Config presets copy MinProtocolVersion and the CLI
// prints Current; the wire Version payload does not reference this
// package. Grounded on the teacher's version/version.go.
package version

import "fmt"

// Application is the node binary's own version.
type Application struct {
	Major, Minor, Patch int
}

func (v Application) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Application) Compare(o Application) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	default:
		return sign(v.Patch - o.Patch)
	}
}

func sign(i int) int {
	switch {
	case i < 0:
		return -1
	case i > 0:
		return 1
	default:
		return 0
	}
}

// Current is this build's application version.
func Current() Application { return Application{Major: 0, Minor: 1, Patch: 0} }

// ProtocolVersion is the wire protocol version (spec.md §6.1). No code in
// this repository compares a peer's advertised version against it.
const ProtocolVersion uint32 = 1

// MinProtocolVersion is the minimum peer protocol version carried into
// config.Config; nothing enforces it against peers.
const MinProtocolVersion uint32 = 1

// Package version holds the build version string reported by both
// binaries and the status server, in place of the teacher's package-level
// main.Version var.
package version

// Version increments based on change magnitude:
// Major (x.0.0): breaking wire-format changes.
// Minor (0.y.0): new features, new tunnel rules.
// Patch (0.0.z): bug fixes, minor improvements.
var Version = "1.0.0"

// Package version holds the build identifier, set with
// -ldflags "-X torvpn/pkg/version.Build=<id>".
package version

// Build defaults to "dev" for local builds.
var Build = "dev"

// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars contains variables injected at build time.
package buildvars

// Version is set at link time via `-ldflags -X github.com/rvail/netvault/buildvars.Version=...`.
// It will be empty for local or development builds.
var Version string

// Commit is set at link time with the short VCS revision.
var Commit string

// VersionOrDefault returns Version if set, otherwise the provided default.
func VersionOrDefault(def string) string {
	if len(Version) > 0 {
		return Version
	}
	return def
}

// CommitOrDefault returns Commit if set, otherwise the provided default.
func CommitOrDefault(def string) string {
	if len(Commit) > 0 {
		return Commit
	}
	return def
}

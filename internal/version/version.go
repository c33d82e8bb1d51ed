// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package version holds the version of the build.
package version

// Version is set at build time with -ldflags "-X github.com/hapgo/hapi/internal/version.Version=...".
var Version = "dev"

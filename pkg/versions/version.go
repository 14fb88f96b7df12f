// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package versions reports build information injected with -ldflags.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Set at build time, e.g.
//
//	-ldflags "-X github.com/TastyPi/discord-oidc/pkg/versions.Version=v1.0.0"
var (
	Version   = "dev"
	Commit    = unknownStr
	BuildDate = unknownStr
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information. Development builds report
// "build-" followed by the first eight characters of the commit.
func GetVersionInfo() VersionInfo {
	version := Version
	if version == "dev" {
		commit := Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		version = "build-" + commit
	}

	buildDate := BuildDate
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	return VersionInfo{
		Version:   version,
		Commit:    Commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent identifies the bridge to upstream APIs.
func UserAgent() string {
	return fmt.Sprintf("discord-oidc/%s (https://github.com/TastyPi/discord-oidc)", GetVersionInfo().Version)
}

// SPDX-License-Identifier: MIT
//
// Package build describes the running binary. Release builds embed the
// name, build time, commit and version with linker flags:
//
//	go build -ldflags "-X paulring/pkg/build.buildName=paulring \
//	  -X paulring/pkg/build.buildVersion=v0.3.0 ..."
//
// Development builds set none of them and fall back to the module and VCS
// information the Go toolchain records in the binary.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
)

const (
	defaultName = "paulring"
	description = "Live granular time-stretching of an input stream"
	unknown     = "unknown"
)

// Info is the build metadata of the binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
	Dev         bool // No linker flags were supplied.
}

// Package-level variables for build information. These are populated by
// -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = &Info{
		Name:        defaultName,
		Description: description,
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
		Dev:         true,
	}
	readBuildInfo = debug.ReadBuildInfo
)

// Initialize fills the build information. A release build must set every
// linker flag; a build that sets none reads the toolchain's build info
// instead. Setting only some of the flags is an error.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		bi, ok := readBuildInfo()
		if !ok {
			bi = nil
		}
		*buildInfo = fromBuildInfo(bi)
		return nil
	}

	var errs error
	for _, f := range []struct{ name, value string }{
		{"BuildName", buildName},
		{"BuildTime", buildTime},
		{"BuildCommit", buildCommit},
		{"BuildVersion", buildVersion},
	} {
		if f.value == "" {
			errs = errors.Join(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if errs != nil {
		return errs
	}

	*buildInfo = Info{
		Name:        buildName,
		Description: description,
		Time:        buildTime,
		Commit:      buildCommit,
		Version:     buildVersion,
	}
	return nil
}

// fromBuildInfo derives development build information. bi may be nil.
func fromBuildInfo(bi *debug.BuildInfo) Info {
	info := Info{
		Name:        defaultName,
		Description: description,
		Time:        unknown,
		Commit:      unknown,
		Version:     "devel",
		Dev:         true,
	}
	if bi == nil {
		return info
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			if len(info.Commit) > 12 {
				info.Commit = info.Commit[:12]
			}
		case "vcs.time":
			info.Time = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && info.Commit != unknown {
		info.Commit += "-dirty"
	}
	return info
}

// GetBuildFlags returns the current build information. Call Initialize
// first.
func GetBuildFlags() *Info {
	return buildInfo
}

// String formats the information for --version and the startup log.
func (i *Info) String() string {
	s := fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
	if i.Dev {
		s += " [dev]"
	}
	return s
}

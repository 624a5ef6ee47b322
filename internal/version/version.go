// Package version provides utilities for extracting build and dependency
// information, grounded on version.GetBuildInfo's use of runtime/debug.
package version

import (
	"runtime/debug"
	"sort"
)

// DependencyInfo represents a module dependency and its version.
type DependencyInfo struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// BuildInfo contains build-time information.
type BuildInfo struct {
	GoVersion    string           `json:"goVersion"`
	MainModule   string           `json:"mainModule"`
	MainVersion  string           `json:"mainVersion"`
	Dependencies []DependencyInfo `json:"dependencies"`
}

// GetBuildInfo extracts build information embedded in the binary at build
// time.
func GetBuildInfo() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{
			GoVersion:    "unknown",
			MainModule:   "unknown",
			MainVersion:  "unknown",
			Dependencies: []DependencyInfo{},
		}
	}

	bi := &BuildInfo{
		GoVersion:    info.GoVersion,
		MainModule:   info.Path,
		MainVersion:  info.Main.Version,
		Dependencies: make([]DependencyInfo, 0, len(info.Deps)),
	}

	for _, dep := range info.Deps {
		d := DependencyInfo{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
		}
		bi.Dependencies = append(bi.Dependencies, d)
	}

	sort.Slice(bi.Dependencies, func(i, j int) bool {
		return bi.Dependencies[i].Path < bi.Dependencies[j].Path
	})

	return bi
}

// GetDependency returns version information for a specific dependency, nil
// if the running binary does not depend on it.
func GetDependency(modulePath string) *DependencyInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			d := &DependencyInfo{Path: dep.Path, Version: dep.Version}
			if dep.Replace != nil {
				d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
			}
			return d
		}
	}
	return nil
}

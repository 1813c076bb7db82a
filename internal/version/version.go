// Package version reports the build version of the parley binary.
package version

import (
	"runtime/debug"
	"sync"
)

// version is set at build time via -ldflags. Plain `go install` builds leave
// it at the default, so the module build info fills in below.
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

var resolve = sync.OnceValue(func() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return version + "+" + s.Value[:12]
		}
	}
	return version
})

// String returns the version stamped into the binary.
func String() string {
	return resolve()
}

// Package buildconfig carries build metadata injected at link time:
//
//	go build -ldflags "-X .../buildconfig.version=v1.2.0 -X .../buildconfig.commit=$(git rev-parse --short HEAD)"
package buildconfig

var (
	version = "dev"
	commit  = "unknown"
)

func Version() string { return version }

func Commit() string { return commit }

// VersionInfo returns the metadata in a form ready for status endpoints.
func VersionInfo() map[string]string {
	return map[string]string{
		"version": version,
		"commit":  commit,
	}
}

// Package buildinfo exposes the version stamped into the binary at build
// time, both for the CLI version command and the HTTP version endpoint.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Set via ldflags, e.g.
// -X github.com/aegis-moderation/aegis/pkg/buildinfo.Version=v0.3.0
// -X github.com/aegis-moderation/aegis/pkg/buildinfo.Commit=abc1234
// -X github.com/aegis-moderation/aegis/pkg/buildinfo.BuildTime=2026-08-30T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
}

// Get returns build info for the named service.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// Handler returns an HTTP handler that responds with build info JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := Get(serviceName)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

package version

import (
	"fmt"
	"time"
)

// Stamped at build time with -ldflags.
var (
	version   = "unknown"
	buildTime = ""
)

func Version() string {
	return version
}

func BuildTime() (time.Time, error) {
	if len(buildTime) == 0 {
		return time.Time{}, fmt.Errorf("build time not set")
	}
	return time.Parse(time.RFC3339, buildTime)
}

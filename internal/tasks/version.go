package tasks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is the software version. Overridden at build time with
// -ldflags "-X arius/internal/tasks.Version=...".
var Version = "0.13.0 dev"

var versionRe = regexp.MustCompile(`^.*?(\d+)\.(\d+)\.(\d+).*$`)

// VersionTuple extracts (major, minor, patch) from a version string such as
// "v1.2.3" or "0.13.0 dev".
func VersionTuple(v string) ([3]int, error) {
	m := versionRe.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return [3]int{}, fmt.Errorf("malformed version %q", v)
	}
	var out [3]int
	for i := range out {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return [3]int{}, fmt.Errorf("malformed version %q: %w", v, err)
		}
		out[i] = n
	}
	return out, nil
}

// Newer reports whether version a is strictly newer than b.
func Newer(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

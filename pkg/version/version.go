package version

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"runtime/debug"

	"github.com/Masterminds/semver/v3"
)

// version provided by ldflags at compile-time
var version string

const (
	DevelVersion = "0.0.0-devel"
)

func GetVersion() string {
	if version == "" {
		if i, ok := debug.ReadBuildInfo(); ok {
			// "(devel)" for local run
			// "vX.Y.Z" for tagged run or go install
			// or "v(0.0.0|X.Y.Z)-[0.]YYYMMDDhhmmss-(digest)[+dirty]"
			// See: https://go.dev/ref/mod#versions
			version = i.Main.Version
			if version == "(devel)" {
				version = DevelVersion
			}
		}
	}
	return version
}

func PrintVersion() {
	fmt.Println(GetVersion())
}

type Version = semver.Version

func ParseVersion(version string) (*Version, error) {
	return semver.NewVersion(version)
}

type Constraints = semver.Constraints

func ParseConstraints(constraints string) (*Constraints, error) {
	return semver.NewConstraint(constraints)
}

func GetParsedVersion() *Version {
	version := GetVersion()
	ver, err := ParseVersion(version)
	if err != nil {
		ver = semver.New(0, 0, 0, "malformed", version)
	}
	return ver
}

var binaryVersionRe = regexp.MustCompile(`\d+\.\d+(\.\d+)?(-[0-9A-Za-z.-]+)?`)

// ParseBinaryVersion extracts the version from the --version output of a
// server binary, e.g. "24.1.2-stable-ya~8a2f" or "ytserver-master 23.2.0".
func ParseBinaryVersion(output string) (*Version, error) {
	for _, line := range strings.Split(output, "\n") {
		if match := binaryVersionRe.FindString(line); match != "" {
			return ParseVersion(match)
		}
	}
	return nil, fmt.Errorf("no version in binary output %q", strings.TrimSpace(output))
}

// ProbeBinary runs "<binary> --version".
func ProbeBinary(ctx context.Context, binary string) (*Version, error) {
	output, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get version of %s: %w", binary, err)
	}
	return ParseBinaryVersion(string(output))
}

// DriverAPIVersion picks the HTTP API version served by proxies of the given version.
// Prerelease suffixes such as "-stable" are ignored.
func DriverAPIVersion(v *Version) int {
	if v == nil {
		return 4
	}
	release := semver.New(v.Major(), v.Minor(), v.Patch(), "", "")
	cs, err := ParseConstraints("< 19.4")
	if err == nil && cs.Check(release) {
		return 3
	}
	return 4
}

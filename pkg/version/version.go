// Package version holds the protocol and build versions of the agent.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this module.
const Current = "1.0"

// alpnPrefix tags rlink ALPN protocol names.
const alpnPrefix = "rlink/"

// Build is the agent build version, set with
// -ldflags "-X github.com/rlink-protocol/rlink-go/pkg/version.Build=...".
var Build = "dev"

// Protocol is a parsed "major.minor" protocol version.
type Protocol struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (Protocol, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || major == "" || minor == "" || strings.Contains(minor, ".") {
		return Protocol{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}
	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return Protocol{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	mn, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return Protocol{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}
	return Protocol{Major: uint16(maj), Minor: uint16(mn)}, nil
}

// String returns the version as "major.minor".
func (v Protocol) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether other has the same major version.
func (v Protocol) Compatible(other Protocol) bool {
	return v.Major == other.Major
}

// ALPNProtocol returns the ALPN protocol name for a major version.
func ALPNProtocol(major uint16) string {
	return alpnPrefix + strconv.FormatUint(uint64(major), 10)
}

// MajorFromALPN extracts the major version from an rlink ALPN name.
func MajorFromALPN(alpn string) (uint16, error) {
	suffix, ok := strings.CutPrefix(alpn, alpnPrefix)
	if !ok {
		return 0, fmt.Errorf("not an rlink ALPN protocol: %q", alpn)
	}
	if suffix == "" {
		return 0, fmt.Errorf("empty major version in ALPN: %q", alpn)
	}
	major, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid major version in ALPN %q: %w", alpn, err)
	}
	return uint16(major), nil
}

// SupportedALPNProtocols returns the ALPN names offered on TLS streams.
func SupportedALPNProtocols() []string {
	current, _ := Parse(Current)
	return []string{ALPNProtocol(current.Major)}
}

// String describes the build for logs and -version output.
func String() string {
	return fmt.Sprintf("rlink-agent %s (protocol %s)", Build, Current)
}

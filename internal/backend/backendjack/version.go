// Package backendjack drives JACK MIDI through go-jack. Port renaming only
// works on servers new enough to carry jack_port_rename, so the capability
// is gated on the installed version, probed the same way the reference
// tooling does: pkg-config.
package backendjack

import (
	"os/exec"
	"strconv"
	"strings"
)

// Minimum versions carrying jack_port_rename, per JACK family: the 0.x
// line is JACK1, the 1.9.x line is JACK2.
const (
	jack1MinMinor = 125 // 0.125.0
	jack2MinMinor = 9   // 1.9.11
	jack2MinPatch = 11
)

// renameSupported reports whether a JACK version string names a server with
// jack_port_rename.
func renameSupported(version string) bool {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) < 2 {
		return false
	}
	nums := make([]int, 3)
	for i := 0; i < 3; i++ {
		if i >= len(parts) {
			break
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return false
		}
		nums[i] = n
	}
	switch nums[0] {
	case 0:
		return nums[1] >= jack1MinMinor
	case 1:
		return nums[1] > jack2MinMinor ||
			(nums[1] == jack2MinMinor && nums[2] >= jack2MinPatch)
	default:
		return nums[0] > 1
	}
}

// probeRenameCapability asks pkg-config for the installed JACK version. Any
// probe failure leaves the capability unset; rename requests then fail
// explicitly instead of silently no-opping.
func probeRenameCapability() bool {
	out, err := exec.Command("pkg-config", "--modversion", "jack").Output()
	if err != nil {
		return false
	}
	return renameSupported(string(out))
}

package domain

import (
	"slices"
	"strings"
)

// ABI is a target CPU architecture for native code.
type ABI string

// ABIs known to the platform.
const (
	ABIArm64V8a   ABI = "arm64-v8a"
	ABIArmeabiV7a ABI = "armeabi-v7a"
	ABIX86        ABI = "x86"
	ABIX8664      ABI = "x86_64"
	ABIRiscv64    ABI = "riscv64"
	ABIArmeabi    ABI = "armeabi"
	ABIMips       ABI = "mips"
	ABIMips64     ABI = "mips64"
)

var supportedABIs = []ABI{ABIArm64V8a, ABIArmeabiV7a, ABIX86, ABIX8664, ABIRiscv64}

var legacyABIs = []ABI{ABIArmeabi, ABIMips, ABIMips64}

// SupportedABIs returns the ABIs the toolchain can package.
func SupportedABIs() []ABI {
	return slices.Clone(supportedABIs)
}

// Known reports whether the platform defines the ABI at all.
func (a ABI) Known() bool {
	return slices.Contains(supportedABIs, a) || slices.Contains(legacyABIs, a)
}

// Supported reports whether the toolchain can package native code for the ABI.
func (a ABI) Supported() bool {
	return slices.Contains(supportedABIs, a)
}

func (a ABI) String() string {
	return string(a)
}

// NormalizeABIs trims, deduplicates and sorts an ABI list.
func NormalizeABIs(in []ABI) []ABI {
	out := make([]ABI, 0, len(in))
	for _, a := range in {
		a = ABI(strings.TrimSpace(string(a)))
		if a == "" || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// ABISet reports membership of ABIs in a scope; an empty set admits every ABI.
type ABISet []ABI

// Admits reports whether native code for a belongs to the set.
func (s ABISet) Admits(a ABI) bool {
	return len(s) == 0 || slices.Contains(s, a)
}

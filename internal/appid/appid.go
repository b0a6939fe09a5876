// Package appid generates deterministic, device-scoped app identifiers
// "<deviceName>-<appName>" optionally suffixed with a five-digit
// zero-padded random tail so two installs of the same app on one device
// don't collide.
package appid

import (
	"fmt"
	"math/rand/v2"
)

// Generate returns "<deviceName>-<appName>", optionally suffixed with
// "-<5-digit-zero-padded-random>" drawn uniformly from [0, 100000).
//
// The random draw is a single bounded integer with no cryptographic
// requirement (its only job is disambiguating two installs on one device,
// not defeating an adversary), so it stays on math/rand/v2 rather than
// pulling in a dependency for it; see DESIGN.md.
func Generate(deviceName, appName string, isRandom bool) string {
	base := deviceName + "-" + appName
	if !isRandom {
		return base
	}
	return fmt.Sprintf("%s-%05d", base, rand.IntN(100000))
}

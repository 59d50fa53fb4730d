package embedded

import (
	_ "embed"
)

//go:embed profiles/milkv-duos.toml
var defaultProfile []byte

// DefaultProfile returns the embedded Milk-V Duo S board profile.
func DefaultProfile() []byte {
	return defaultProfile
}

package recorder

import "sync/atomic"

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let library choose best available
	ProviderX264                     // GPL H.264 encoder
	ProviderOpenH264                 // BSD H.264 encoder
	ProviderCustom                   // Caller-supplied encoder factory
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL License = iota // Copyleft - requires source disclosure
	LicenseBSD                // Permissive - no copyleft obligations
)

// Permissive returns true if the license has no copyleft obligations.
func (l License) Permissive() bool { return l == LicenseBSD }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string
	License License
}

var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", LicenseBSD},
	ProviderX264:     {"x264", LicenseGPL},
	ProviderOpenH264: {"openh264", LicenseBSD},
	ProviderCustom:   {"custom", LicenseBSD},
}

// Runtime availability - set when an implementation registers.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// setProviderAvailable marks a provider as available.
func setProviderAvailable(p Provider, ok bool) {
	if p < providerCount {
		providerAvailable[p].Store(ok)
	}
}

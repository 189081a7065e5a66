package streamdec

import "sync/atomic"

// Provider identifies a decode backend implementation.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let library choose best available
	ProviderQSV                      // Hardware decode via libmedia_qsv
	ProviderOpenH264                 // Software decode via libmedia_h264
	ProviderNull                     // Blank frames, no native code
	providerCount
)

// Features is a bitmask of provider capabilities.
type Features uint32

const (
	FeatureHardware          Features = 1 << iota // Decodes on a GPU/media engine
	FeatureAsync                                  // Decode completes after submit returns
	FeatureDynamicResolution                      // Handles in-band resolution changes
	FeatureNative                                 // Requires a native library
)

// Has returns true if all specified features are supported.
func (f Features) Has(feature Features) bool { return f&feature == feature }

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name     string
	Features Features
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", 0},
	ProviderQSV:      {"qsv", FeatureHardware | FeatureAsync | FeatureDynamicResolution | FeatureNative},
	ProviderOpenH264: {"openh264", FeatureDynamicResolution | FeatureNative},
	ProviderNull:     {"null", FeatureAsync | FeatureDynamicResolution},
}

// Runtime availability - set by init() in backend implementations.
var providerAvailable [providerCount]atomic.Bool

func init() {
	providerAvailable[ProviderNull].Store(true)
}

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// Features returns the provider's feature bitmask.
func (p Provider) Features() Features {
	if p >= providerCount {
		return 0
	}
	return providerInfo[p].Features
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// ParseProvider maps a provider name to its Provider.
func ParseProvider(name string) (Provider, bool) {
	for p := Provider(0); p < providerCount; p++ {
		if providerInfo[p].Name == name {
			return p, true
		}
	}
	return ProviderAuto, false
}

// Providers lists every known provider except ProviderAuto.
func Providers() []Provider {
	out := make([]Provider, 0, providerCount-1)
	for p := ProviderAuto + 1; p < providerCount; p++ {
		out = append(out, p)
	}
	return out
}

// setProviderAvailable marks a provider as available (called by implementations).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}

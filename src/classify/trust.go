package classify

import "strings"

// AppVariant describes which flavour of client software a peer declared.
type AppVariant string

// TrustLevel is the application-trust tier derived from declared metadata.
// Peers cannot prove their claims, so trust levels only affect bootstrap
// candidate ordering, never message routing.
type TrustLevel string

const (
	VariantOfficial AppVariant = "official"
	VariantFork     AppVariant = "fork"
	VariantCustom   AppVariant = "custom"

	TrustTrusted     TrustLevel = "trusted"
	TrustSemiTrusted TrustLevel = "semi-trusted"
	TrustUntrusted   TrustLevel = "untrusted"
)

// Unknown is the placeholder recorded for metadata fields the client did not
// declare. It is a literal value so that tests and operators can tell a
// missing field from a real one.
const Unknown = "Unknown"

// brandToken is the product name looked for in forked client names.
const brandToken = "babble"

// officialBundleIDs is the allow-list of bundle identifiers shipped by the
// official client builds.
var officialBundleIDs = map[string]bool{
	"com.mosaicnetworks.babble":         true,
	"com.mosaicnetworks.babble.ios":     true,
	"com.mosaicnetworks.babble.android": true,
	"com.mosaicnetworks.babble.desktop": true,
}

// Metadata is the client-declared application metadata attached to a
// registration request.
type Metadata struct {
	BundleID     string   `json:"bundleId,omitempty"`
	AppName      string   `json:"appName,omitempty"`
	AppVersion   string   `json:"appVersion,omitempty"`
	UserAgent    string   `json:"userAgent,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Normalized returns a copy of the metadata with missing string fields
// replaced by Unknown.
func (m Metadata) Normalized() Metadata {
	if m.BundleID == "" {
		m.BundleID = Unknown
	}
	if m.AppName == "" {
		m.AppName = Unknown
	}
	if m.AppVersion == "" {
		m.AppVersion = Unknown
	}
	if m.UserAgent == "" {
		m.UserAgent = Unknown
	}
	return m
}

// Classification is the trust tier computed once at registration. It is
// immutable for the lifetime of a registration; a re-register recomputes it.
type Classification struct {
	AppVariant AppVariant `json:"appVariant"`
	TrustLevel TrustLevel `json:"trustLevel"`
	IsOfficial bool       `json:"isOfficial"`
}

// Trust classifies declared metadata. Rules are evaluated in order, first
// match wins:
//
//  1. bundleId in the official allow-list       -> official / trusted
//  2. appName contains the brand token           -> fork / semi-trusted
//  3. anything else                              -> custom / untrusted
func Trust(meta Metadata) Classification {
	meta = meta.Normalized()

	if officialBundleIDs[meta.BundleID] {
		return Classification{
			AppVariant: VariantOfficial,
			TrustLevel: TrustTrusted,
			IsOfficial: true,
		}
	}

	if strings.Contains(strings.ToLower(meta.AppName), brandToken) {
		return Classification{
			AppVariant: VariantFork,
			TrustLevel: TrustSemiTrusted,
		}
	}

	return Classification{
		AppVariant: VariantCustom,
		TrustLevel: TrustUntrusted,
	}
}

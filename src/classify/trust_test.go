package classify

import "testing"

func TestTrust(t *testing.T) {
	testCases := []struct {
		name    string
		meta    Metadata
		variant AppVariant
		level   TrustLevel
	}{
		{
			name:    "official bundle",
			meta:    Metadata{BundleID: "com.mosaicnetworks.babble", AppName: "Babble"},
			variant: VariantOfficial,
			level:   TrustTrusted,
		},
		{
			name:    "official mobile bundle",
			meta:    Metadata{BundleID: "com.mosaicnetworks.babble.ios"},
			variant: VariantOfficial,
			level:   TrustTrusted,
		},
		{
			name:    "fork by name",
			meta:    Metadata{BundleID: "org.example.chat", AppName: "BabbleGram"},
			variant: VariantFork,
			level:   TrustSemiTrusted,
		},
		{
			name:    "fork name is case insensitive",
			meta:    Metadata{AppName: "MyBABBLEFork"},
			variant: VariantFork,
			level:   TrustSemiTrusted,
		},
		{
			name:    "custom client",
			meta:    Metadata{BundleID: "org.example.chat", AppName: "SuperChat"},
			variant: VariantCustom,
			level:   TrustUntrusted,
		},
		{
			name:    "empty metadata",
			meta:    Metadata{},
			variant: VariantCustom,
			level:   TrustUntrusted,
		},
		{
			// The allow-list matches whole bundle ids, not prefixes.
			name:    "lookalike bundle",
			meta:    Metadata{BundleID: "com.mosaicnetworks.babble.evil", AppName: "SuperChat"},
			variant: VariantCustom,
			level:   TrustUntrusted,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Trust(tc.meta)

			if got.AppVariant != tc.variant {
				t.Errorf("variant = %q, want %q", got.AppVariant, tc.variant)
			}
			if got.TrustLevel != tc.level {
				t.Errorf("level = %q, want %q", got.TrustLevel, tc.level)
			}
			if got.IsOfficial != (tc.variant == VariantOfficial) {
				t.Errorf("IsOfficial = %v for variant %q", got.IsOfficial, tc.variant)
			}
		})
	}
}

func TestNormalized(t *testing.T) {
	meta := Metadata{AppName: "SuperChat"}.Normalized()

	if meta.AppName != "SuperChat" {
		t.Fatalf("declared fields should be preserved, got %q", meta.AppName)
	}

	if meta.BundleID != Unknown || meta.AppVersion != Unknown || meta.UserAgent != Unknown {
		t.Fatalf("missing fields should read %q, got %+v", Unknown, meta)
	}
}

package classify

import "testing"

func TestRegionLocal(t *testing.T) {
	local := []string{
		"127.0.0.1:1337",
		"127.0.0.1",
		"[::1]:443",
		"192.168.1.10:8080",
		"10.0.0.42",
		"172.16.5.5:80",
		"169.254.1.1",
		"localhost:3000",
		"localhost",
		"",
	}

	for _, addr := range local {
		if got := Region(addr); got != RegionLocal {
			t.Errorf("Region(%q) = %q, want %q", addr, got, RegionLocal)
		}
	}
}

func TestRegionDeterministic(t *testing.T) {
	first := Region("8.8.8.8:443")
	second := Region("8.8.8.8:9999")

	// The port never participates in the assignment.
	if first != second {
		t.Fatalf("same host should map to same region: %q != %q", first, second)
	}

	if first == RegionLocal {
		t.Fatalf("public address should not be local")
	}

	valid := false
	for _, tag := range Regions() {
		if first == tag {
			valid = true
		}
	}
	if !valid {
		t.Fatalf("Region returned an unknown tag %q", first)
	}
}

func TestRegionHostname(t *testing.T) {
	// Non-IP hosts are hashed like any other origin.
	got := Region("rendezvous.example.com:2443")
	if got == RegionLocal {
		t.Fatalf("public hostname should not be local, got %q", got)
	}

	if got != Region("rendezvous.example.com") {
		t.Fatal("hostname assignment should not depend on the port")
	}
}

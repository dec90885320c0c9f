package region

import "testing"

func TestFind(t *testing.T) {
	info := Find("ap-northeast-1")
	if info == nil {
		t.Fatal("Find returned nil for ap-northeast-1")
	}
	if info.Name != "Tokyo" {
		t.Errorf("Name = %q, want %q", info.Name, "Tokyo")
	}
}

func TestFind_UnknownRegion(t *testing.T) {
	if info := Find("mars-central-1"); info != nil {
		t.Errorf("Find returned %+v for unknown region, want nil", info)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"us-east-1", true},
		{"eu-central-1", true},
		{"", false},
		{"us-east-99", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.code); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestDefaultInstanceType(t *testing.T) {
	arm := Info{Code: "x", SupportsARM: true}
	if got := arm.DefaultInstanceType(); got != "t4g.nano" {
		t.Errorf("ARM region default = %q, want t4g.nano", got)
	}
	x86 := Info{Code: "y"}
	if got := x86.DefaultInstanceType(); got != "t3.nano" {
		t.Errorf("x86 region default = %q, want t3.nano", got)
	}
}

func TestCodes_MatchesCatalog(t *testing.T) {
	codes := Codes()
	if len(codes) != len(Catalog) {
		t.Fatalf("Codes returned %d entries, catalog has %d", len(codes), len(Catalog))
	}
	for i, c := range codes {
		if c != Catalog[i].Code {
			t.Errorf("Codes()[%d] = %q, want %q", i, c, Catalog[i].Code)
		}
	}
}

func TestIsARMInstanceType(t *testing.T) {
	tests := []struct {
		instanceType string
		want         bool
	}{
		{"t4g.nano", true},
		{"c7g.medium", true},
		{"m7g.large", true},
		{"t3.nano", false},
		{"t3a.micro", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsARMInstanceType(tt.instanceType); got != tt.want {
			t.Errorf("IsARMInstanceType(%q) = %v, want %v", tt.instanceType, got, tt.want)
		}
	}
}

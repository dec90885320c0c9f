// Package region provides the static catalog of supported AWS regions.
// It is pure data: each entry maps a region code to a display name and
// the compute families available there.
package region

import "strings"

// Info describes one supported AWS region.
type Info struct {
	// Code is the AWS region identifier, e.g. "ap-northeast-1".
	Code string
	// Name is the human-readable location, e.g. "Tokyo".
	Name string
	// SupportsARM reports whether Graviton (arm64) instance families
	// are available in this region.
	SupportsARM bool
}

// Catalog lists the regions elsewhere can provision into.
var Catalog = []Info{
	// Asia Pacific
	{Code: "ap-northeast-1", Name: "Tokyo", SupportsARM: true},
	{Code: "ap-northeast-2", Name: "Seoul", SupportsARM: true},
	{Code: "ap-northeast-3", Name: "Osaka", SupportsARM: true},
	{Code: "ap-southeast-1", Name: "Singapore", SupportsARM: true},
	{Code: "ap-southeast-2", Name: "Sydney", SupportsARM: true},
	{Code: "ap-south-1", Name: "Mumbai", SupportsARM: true},

	// United States
	{Code: "us-east-1", Name: "N. Virginia", SupportsARM: true},
	{Code: "us-east-2", Name: "Ohio", SupportsARM: true},
	{Code: "us-west-1", Name: "N. California", SupportsARM: true},
	{Code: "us-west-2", Name: "Oregon", SupportsARM: true},

	// Europe
	{Code: "eu-west-1", Name: "Ireland", SupportsARM: true},
	{Code: "eu-west-2", Name: "London", SupportsARM: true},
	{Code: "eu-west-3", Name: "Paris", SupportsARM: true},
	{Code: "eu-central-1", Name: "Frankfurt", SupportsARM: true},
	{Code: "eu-north-1", Name: "Stockholm", SupportsARM: true},

	// South America
	{Code: "sa-east-1", Name: "São Paulo", SupportsARM: true},

	// Canada
	{Code: "ca-central-1", Name: "Canada", SupportsARM: true},
}

// DefaultInstanceType returns the cheapest suitable instance type for
// this region: Graviton nano where ARM is available, otherwise x86 nano.
func (i Info) DefaultInstanceType() string {
	if i.SupportsARM {
		return "t4g.nano"
	}
	return "t3.nano"
}

// Find returns the catalog entry for the given region code, or nil if
// the code is not in the catalog.
func Find(code string) *Info {
	for idx := range Catalog {
		if Catalog[idx].Code == code {
			return &Catalog[idx]
		}
	}
	return nil
}

// Valid reports whether the given region code is in the catalog.
func Valid(code string) bool {
	return Find(code) != nil
}

// Codes returns all region codes in catalog order.
func Codes() []string {
	codes := make([]string, len(Catalog))
	for i, r := range Catalog {
		codes[i] = r.Code
	}
	return codes
}

// IsARMInstanceType reports whether the instance type belongs to a
// Graviton (arm64) family.
func IsARMInstanceType(instanceType string) bool {
	for _, prefix := range []string{"t4g.", "m7g.", "m8g.", "c7g.", "c8g."} {
		if strings.HasPrefix(instanceType, prefix) {
			return true
		}
	}
	return false
}

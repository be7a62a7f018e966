// ABOUTME: Build and product identity constants
// ABOUTME: Reported in startup logs and the mDNS TXT record
package version

const (
	// Version is the daemon version.
	Version = "0.1.0"

	// Product is the advertised product name.
	Product = "live-input-to-airplay"

	// Manufacturer identifies the project for service records.
	Manufacturer = "alphalpha"
)

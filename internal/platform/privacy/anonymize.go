// Package privacy keeps personal data out of logs and audit events.
package privacy

import (
	"fmt"
	"net"
)

// AnonymizeIP truncates an address before it enters the audit trail, so a
// decision or retrieval event records the network a customer acted from but
// not the host. IPv4 keeps the /24 (last octet zeroed), IPv6 keeps the /48
// prefix. Empty input maps to "unknown", unparseable input to "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	// IPv6 is 16 bytes; the /48 prefix is the first 6.
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

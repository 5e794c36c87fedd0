// Package netaddr picks the network for a listen or dial address.
package netaddr

import "strings"

// Split returns ("unix", path) for "unix:<path>" or an absolute path, and
// ("tcp", addr) for anything else.
func Split(addr string) (network, address string) {
	if p, ok := strings.CutPrefix(addr, "unix:"); ok {
		return "unix", p
	}
	if strings.HasPrefix(addr, "/") {
		return "unix", addr
	}
	return "tcp", addr
}

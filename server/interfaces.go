package server

import (
	"net"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// splitInterfaces parses an engine interface list. Entries may be separated
// by ',' or ';' and blank entries are ignored.
func splitInterfaces(list string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ';' }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// LocalInterfaces enumerates the IPv4 addresses of up interfaces on this
// host. The loopback address always comes first, even when enumeration
// fails.
func LocalInterfaces() ([]string, error) {
	addrs := []string{"127.0.0.1"}
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return addrs, err
	}
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.To4() == nil {
				continue
			}
			if s := ip.String(); !slices.Contains(addrs, s) {
				addrs = append(addrs, s)
			}
		}
	}
	return addrs, nil
}

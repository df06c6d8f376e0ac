package resolver

import (
	"bufio"
	"net/netip"
	"os"
	"strings"
)

// lookupHosts returns the first address listed for host in a hosts(5)
// file. Names match case-insensitively, with or without a trailing dot.
func lookupHosts(path, host string) (netip.Addr, bool) {
	f, err := os.Open(path)
	if err != nil {
		return netip.Addr{}, false
	}
	defer f.Close()

	want := strings.TrimSuffix(host, ".")
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		for _, name := range fields[1:] {
			if strings.EqualFold(strings.TrimSuffix(name, "."), want) {
				return ip.Unmap(), true
			}
		}
	}
	return netip.Addr{}, false
}

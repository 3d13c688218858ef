package catalog

import (
	"fmt"
	"strings"
)

// Institution is a library whose catalog is hosted on LibSP.
type Institution struct {
	ID            int
	Abbrev        string
	Name          string
	Hostname      string
	DocCodes      []string
	ResourceTypes []string
}

// AbbrevFromHostname extracts the institution abbreviation from a LibSP
// hostname of the form find<abbrev>.<domain>, e.g. findecnu.libsp.cn -> ecnu.
func AbbrevFromHostname(hostname string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(hostname))
	start := strings.Index(host, "find")
	if start == -1 {
		return "", fmt.Errorf("hostname %q has no find prefix", hostname)
	}
	start += len("find")
	end := strings.Index(host[start:], ".")
	if end <= 0 {
		return "", fmt.Errorf("hostname %q has no abbreviation", hostname)
	}
	return host[start : start+end], nil
}

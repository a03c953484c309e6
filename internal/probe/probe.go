package probe

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/aaustin-1965/adapter-change-management/internal"
)

// Build creates the probe described by args for the host of instanceUrl.
func Build(instanceUrl string, args map[string]any) (internal.Reachability, error) {
	parsed, err := url.Parse(instanceUrl)
	if err != nil {
		return nil, fmt.Errorf("could not parse url: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, errors.New("url carries no host")
	}

	prober, found := args["type"]
	if !found {
		return nil, errors.New("no type specified")
	}

	switch prober {
	case IcmpProbeName:
		return NewIcmpProbe(host, args)
	case TcpProbeName:
		return NewTcpProbe(host, defaultPortForScheme(parsed), args)
	default:
		return nil, fmt.Errorf("no probe %q available", prober)
	}
}

func defaultPortForScheme(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}

	if u.Scheme == "http" {
		return "80"
	}
	return "443"
}

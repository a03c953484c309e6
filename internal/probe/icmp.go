package probe

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	IcmpProbeName      = "icmp"
	icmpDefaultTimeout = 3 * time.Second
)

type IcmpProbe struct {
	host       string
	timeout    time.Duration
	privileged bool
}

func NewIcmpProbe(host string, args map[string]any) (*IcmpProbe, error) {
	ret := &IcmpProbe{
		host:       host,
		timeout:    icmpDefaultTimeout,
		privileged: getPrivilegedDefaultForPlatform(),
	}

	timeoutHuman, ok := args["timeout"].(string)
	if ok {
		timeout, err := time.ParseDuration(timeoutHuman)
		if err != nil {
			return nil, fmt.Errorf("timeout duration could not be parsed: %w", err)
		}
		ret.timeout = timeout
	}

	privileged, ok := args["privileged"].(bool)
	if ok {
		ret.privileged = privileged
	}

	return ret, nil
}

func getPrivilegedDefaultForPlatform() bool {
	switch runtime.GOOS {
	case "linux":
		return true
	case "windows":
		return true
	}

	return false
}

func (p *IcmpProbe) Name() string {
	return IcmpProbeName
}

func (p *IcmpProbe) IsReachable(ctx context.Context) (bool, error) {
	pinger, err := probing.NewPinger(p.host)
	if err != nil {
		return false, fmt.Errorf("could not create pinger: %w", err)
	}

	count := 1
	pinger.Timeout = cmp.Or(p.timeout, icmpDefaultTimeout)
	pinger.Count = count
	pinger.SetPrivileged(p.privileged)
	if err := pinger.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("ping unsuccessful: %w", err)
	}

	stats := pinger.Statistics()
	return stats.PacketsRecv == count, nil
}

package probe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"
)

const (
	TcpProbeName      = "tcp"
	tcpDefaultTimeout = 5 * time.Second
)

type TcpProbe struct {
	host    string
	port    string
	timeout time.Duration
}

// NewTcpProbe dials host on the port given in args, falling back to defaultPort.
func NewTcpProbe(host, defaultPort string, args map[string]any) (*TcpProbe, error) {
	port := defaultPort
	if portRaw, found := args["port"]; found {
		port = fmt.Sprint(portRaw)
	}

	parsed, err := strconv.Atoi(port)
	if err != nil || parsed <= 0 || parsed > 65535 {
		return nil, fmt.Errorf("could not parse port %q", port)
	}

	ret := &TcpProbe{
		host: host,
		port: port,
	}

	timeoutHuman, ok := args["timeout"].(string)
	if ok {
		timeout, err := time.ParseDuration(timeoutHuman)
		if err != nil {
			return nil, fmt.Errorf("timeout duration could not be parsed: %w", err)
		}
		ret.timeout = timeout
	}

	return ret, nil
}

func (p *TcpProbe) Name() string {
	return TcpProbeName
}

func (p *TcpProbe) IsReachable(ctx context.Context) (bool, error) {
	dialer := net.Dialer{Timeout: cmp.Or(p.timeout, tcpDefaultTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.host, p.port))
	if err == nil && conn != nil {
		defer conn.Close()
		return true, nil
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		// receiving this error means the remote system replied
		return true, nil
	}

	return false, err
}

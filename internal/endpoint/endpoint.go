// Package endpoint parses and resolves the metrics sink address grammar
// [<protocol>://][<hostname>][:<port>].
package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
)

const (
	DefaultProtocol = "udp"
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 8125
)

// Spec is a parsed but unresolved endpoint.
type Spec struct {
	Protocol string
	Host     string
	Port     int
}

// String renders the spec back in the address grammar.
func (s Spec) String() string {
	return s.Protocol + "://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Endpoint is a resolved target. It is never modified after Resolve
// returns; reconfiguration builds a new one.
type Endpoint struct {
	Spec
	Addrs []netip.AddrPort
}

// Parse splits s according to the address grammar, filling in defaults.
func Parse(s string) (Spec, error) {
	spec := Spec{Protocol: DefaultProtocol, Host: DefaultHost, Port: DefaultPort}
	rest := strings.TrimSpace(s)
	if rest == "" {
		return Spec{}, fmt.Errorf("%w: empty address", internalerrors.ErrInvalidEndpoint)
	}

	if i := strings.Index(rest, "://"); i >= 0 {
		spec.Protocol = strings.ToLower(rest[:i])
		rest = rest[i+3:]
	}
	if spec.Protocol != "udp" && spec.Protocol != "tcp" {
		return Spec{}, fmt.Errorf("%w: unsupported protocol %q", internalerrors.ErrInvalidEndpoint, spec.Protocol)
	}

	if isPort(rest) {
		port, err := parsePort(rest)
		if err != nil {
			return Spec{}, err
		}
		spec.Port = port
		return spec, nil
	}

	host, portStr, err := splitHostPort(rest)
	if err != nil {
		return Spec{}, err
	}
	if host != "" {
		spec.Host = host
	}
	if portStr != "" {
		port, err := parsePort(portStr)
		if err != nil {
			return Spec{}, err
		}
		spec.Port = port
	}
	return spec, nil
}

func splitHostPort(s string) (host, port string, err error) {
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("%w: unterminated IPv6 literal %q", internalerrors.ErrInvalidEndpoint, s)
		}
		host = s[1:end]
		tail := s[end+1:]
		if tail == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(tail, ":") {
			return "", "", fmt.Errorf("%w: unexpected %q after IPv6 literal", internalerrors.ErrInvalidEndpoint, tail)
		}
		return host, tail[1:], nil
	case strings.Count(s, ":") > 1:
		// Bare IPv6 literal without a port.
		return s, "", nil
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[:i], s[i+1:], nil
	}
	return s, "", nil
}

func isPort(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", internalerrors.ErrInvalidEndpoint, s)
	}
	return port, nil
}

// Resolver is the subset of *net.Resolver used for hostname lookup.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolve turns spec into an Endpoint. Literal addresses skip the lookup;
// hostnames resolve to every address the resolver returns, in order.
func Resolve(ctx context.Context, resolver Resolver, spec Spec) (*Endpoint, error) {
	if addr, err := netip.ParseAddr(spec.Host); err == nil {
		return &Endpoint{
			Spec:  spec,
			Addrs: []netip.AddrPort{netip.AddrPortFrom(addr.Unmap(), uint16(spec.Port))},
		}, nil
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", spec.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", internalerrors.ErrInvalidEndpoint, spec.Host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s resolved to no addresses", internalerrors.ErrInvalidEndpoint, spec.Host)
	}
	ep := &Endpoint{Spec: spec, Addrs: make([]netip.AddrPort, 0, len(addrs))}
	for _, addr := range addrs {
		ep.Addrs = append(ep.Addrs, netip.AddrPortFrom(addr.Unmap(), uint16(spec.Port)))
	}
	return ep, nil
}

// ParseAndResolve is Parse followed by Resolve.
func ParseAndResolve(ctx context.Context, resolver Resolver, s string) (*Endpoint, error) {
	spec, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return Resolve(ctx, resolver, spec)
}

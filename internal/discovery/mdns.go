// Package discovery advertises the admin endpoint of a running pipeline on
// the local network via mDNS/DNS-SD, so kiosk dashboards can find the
// /metrics and /readyz probes without static addresses.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Defaults for [Advertise].
const (
	DefaultService = "_avatarlive._tcp"
	DefaultDomain  = "local."
)

// Service describes one advertised instance.
type Service struct {
	// Instance is the human-readable instance name. Empty means the host
	// name.
	Instance string

	// Service type, e.g. "_avatarlive._tcp".
	Service string

	// Domain, normally "local.".
	Domain string

	// Addr is the admin listen address; only its port is advertised.
	Addr string

	// Meta becomes the TXT record as sorted key=value pairs.
	Meta map[string]string
}

// Advertise registers svc and returns a function that withdraws it.
func Advertise(svc Service) (shutdown func(), err error) {
	if svc.Service == "" {
		svc.Service = DefaultService
	}
	if svc.Domain == "" {
		svc.Domain = DefaultDomain
	}
	if svc.Instance == "" {
		host, _ := os.Hostname()
		svc.Instance = InstanceName(host)
	}
	port, err := Port(svc.Addr)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(svc.Instance, svc.Service, svc.Domain, port, TXT(svc.Meta), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register %s: %w", svc.Service, err)
	}
	slog.Info("discovery: advertised", "instance", svc.Instance, "service", svc.Service, "domain", svc.Domain, "port", port)
	return server.Shutdown, nil
}

// Port extracts the numeric port of a listen address such as ":9090".
func Port(addr string) (int, error) {
	_, p, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return 0, fmt.Errorf("discovery: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("discovery: listen address %q has no usable port", addr)
	}
	return port, nil
}

// TXT renders meta as sorted key=value records. Empty values are skipped.
func TXT(meta map[string]string) []string {
	txt := make([]string, 0, len(meta))
	for k, v := range meta {
		if v == "" {
			continue
		}
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt)
	return txt
}

// InstanceName derives an instance name from a host name, stripping any
// domain suffix.
func InstanceName(host string) string {
	host, _, _ = strings.Cut(host, ".")
	if host == "" {
		return "avatarlive"
	}
	return "avatarlive-" + host
}

// Package discovery finds QIS instances on the local network via mDNS.
//
// QIS advertises itself as a "_qis._tcp" service. Browsing is used to
// point the streaming examples at a QIS running on another machine
// without hard-coding its address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters.
const (
	// ServiceType is the QIS mDNS service type.
	ServiceType = "_qis._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultBrowseTimeout bounds a browse operation.
	DefaultBrowseTimeout = 5 * time.Second
)

// Service is one discovered QIS instance.
type Service struct {
	// Instance is the advertised instance name.
	Instance string

	// Host is the advertised host name.
	Host string

	// Port is the QIS command port.
	Port int

	// Addresses are the resolved IP addresses, IPv4 first.
	Addresses []string

	// Version is the advertised QIS version, if present in TXT.
	Version string
}

// Addr returns a dialable host:port, preferring a resolved address.
func (s Service) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(s.Port))
}

// BrowserConfig configures browsing behavior.
type BrowserConfig struct {
	// Timeout bounds a browse operation (default: 5s).
	Timeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string
}

// Browser browses for QIS instances.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Timeout <= 0 {
		config.Timeout = DefaultBrowseTimeout
	}
	return &Browser{config: config}
}

// Browse collects the QIS instances visible on the LAN until the
// timeout elapses or ctx is cancelled. Multiple announcements of the
// same instance are aggregated. A silent network yields an empty
// slice, not an error.
func (b *Browser) Browse(ctx context.Context) ([]Service, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	opts, err := b.browserOptions()
	if err != nil {
		return nil, err
	}

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	services := make(map[string]*Service)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return collect(services), nil
			}
			svc := entryToService(entry)
			if existing, found := services[svc.Instance]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
			} else {
				services[svc.Instance] = &svc
			}

		case entry, ok := <-removed:
			if ok {
				delete(services, entry.Instance)
			}

		case <-ctx.Done():
			return collect(services), nil
		}
	}
}

// browserOptions maps the config to zeroconf client options.
func (b *Browser) browserOptions() ([]zeroconf.ClientOption, error) {
	if b.config.Interface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(b.config.Interface)
	if err != nil {
		return nil, fmt.Errorf("unknown interface %q: %w", b.config.Interface, err)
	}
	return []zeroconf.ClientOption{zeroconf.SelectIfaces([]net.Interface{*iface})}, nil
}

// entryToService converts a zeroconf entry.
func entryToService(entry *zeroconf.ServiceEntry) Service {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return Service{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		Version:   txtValue(entry.Text, "version"),
	}
}

// txtValue extracts a key=value TXT record.
func txtValue(txt []string, key string) string {
	prefix := key + "="
	for _, record := range txt {
		if strings.HasPrefix(record, prefix) {
			return strings.TrimPrefix(record, prefix)
		}
	}
	return ""
}

// mergeAddresses combines address lists without duplicates.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		seen[a] = struct{}{}
	}
	for _, a := range incoming {
		if _, dup := seen[a]; !dup {
			existing = append(existing, a)
			seen[a] = struct{}{}
		}
	}
	return existing
}

// collect flattens the aggregation map into a stable slice.
func collect(services map[string]*Service) []Service {
	out := make([]Service, 0, len(services))
	for _, svc := range services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

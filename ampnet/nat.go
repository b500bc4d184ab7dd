package ampnet

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/NebulousLabs/go-upnp"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/jackpal/gateway"
)

// NATTraversal is implemented by a port-mapping method a ConnTransport
// can use to make itself reachable from outside a NAT, mirroring the
// teacher's NAT abstraction over UPnP and NAT-PMP.
type NATTraversal interface {
	// ExternalIP returns this host's external (public) IP address.
	ExternalIP() (net.IP, error)

	// AddPortMapping forwards externalPort on the gateway to internalPort
	// on this host for proto ("tcp" or "udp"), valid for lifetime.
	AddPortMapping(proto string, internalPort, externalPort int, lifetime time.Duration) error

	// DeletePortMapping removes a previously added mapping.
	DeletePortMapping(proto string, externalPort int) error
}

// DiscoverNAT probes for a UPnP internet gateway device first, falling
// back to NAT-PMP against the default gateway if UPnP discovery fails.
// It returns an error only if neither method finds a usable gateway.
func DiscoverNAT(ctx context.Context) (NATTraversal, error) {
	if igd, err := upnp.Discover(); err == nil {
		return &upnpNAT{igd: igd}, nil
	}

	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("ampnet: no UPnP gateway and NAT-PMP gateway discovery failed: %w", err)
	}
	return &pmpNAT{client: natpmp.NewClient(gw)}, nil
}

// upnpNAT implements NATTraversal over an internet gateway device found
// by UPnP discovery.
type upnpNAT struct {
	igd *upnp.IGD
}

func (u *upnpNAT) ExternalIP() (net.IP, error) {
	ipStr, err := u.igd.ExternalIP()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("ampnet: upnp returned unparseable IP %q", ipStr)
	}
	return ip, nil
}

func (u *upnpNAT) AddPortMapping(proto string, internalPort, externalPort int, lifetime time.Duration) error {
	return u.igd.Forward(uint16(externalPort), "aura amp listener")
}

func (u *upnpNAT) DeletePortMapping(proto string, externalPort int) error {
	return u.igd.Clear(uint16(externalPort))
}

// pmpNAT implements NATTraversal over a NAT-PMP-speaking gateway.
type pmpNAT struct {
	client *natpmp.Client
}

func (p *pmpNAT) ExternalIP() (net.IP, error) {
	resp, err := p.client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	ip := net.IP(resp.ExternalIPAddress[:])
	return ip, nil
}

func (p *pmpNAT) AddPortMapping(proto string, internalPort, externalPort int, lifetime time.Duration) error {
	_, err := p.client.AddPortMapping(proto, internalPort, externalPort, int(lifetime.Seconds()))
	return err
}

func (p *pmpNAT) DeletePortMapping(proto string, externalPort int) error {
	// A zero lifetime deletes an existing NAT-PMP mapping per the
	// protocol's own convention.
	_, err := p.client.AddPortMapping(proto, 0, externalPort, 0)
	return err
}

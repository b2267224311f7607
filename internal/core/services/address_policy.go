package services

import (
	"fmt"
	"net/netip"

	"github.com/fleecy/participant/internal/domain"
)

// Address selection policies
const (
	AddressPolicyLast    = "last"
	AddressPolicyFirst   = "first"
	AddressPolicyNetwork = "network"
	AddressPolicyCIDR    = "cidr"
)

// AddressPolicy picks the externally reachable address out of everything the
// controller reported for a VM.
type AddressPolicy struct {
	mode    string
	network string
	prefix  netip.Prefix
}

func NewAddressPolicy(mode, network, cidr string) (*AddressPolicy, error) {
	p := &AddressPolicy{mode: mode, network: network}
	switch mode {
	case "", AddressPolicyLast:
		p.mode = AddressPolicyLast
	case AddressPolicyFirst:
	case AddressPolicyNetwork:
		if network == "" {
			return nil, fmt.Errorf("address policy %q needs a preferred network", mode)
		}
	case AddressPolicyCIDR:
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("address policy %q: %w", mode, err)
		}
		p.prefix = prefix
	default:
		return nil, fmt.Errorf("unknown address policy %q", mode)
	}
	return p, nil
}

// Select returns the chosen address, or "" when there is none. The network
// and cidr policies fall back to the last address when nothing matches.
func (p *AddressPolicy) Select(addrs []domain.NetworkAddress) string {
	if len(addrs) == 0 {
		return ""
	}
	last := addrs[len(addrs)-1].Address

	switch p.mode {
	case AddressPolicyFirst:
		return addrs[0].Address
	case AddressPolicyNetwork:
		for i := len(addrs) - 1; i >= 0; i-- {
			if addrs[i].Network == p.network {
				return addrs[i].Address
			}
		}
	case AddressPolicyCIDR:
		for i := len(addrs) - 1; i >= 0; i-- {
			ip, err := netip.ParseAddr(addrs[i].Address)
			if err == nil && p.prefix.Contains(ip) {
				return addrs[i].Address
			}
		}
	}
	return last
}

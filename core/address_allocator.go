package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"go4.org/netipx"

	"github.com/signalsfoundry/substation-sim/model"
)

var (
	ErrAddressSpaceExhausted = errors.New("address space exhausted")
	ErrInvalidAddressPlan    = errors.New("invalid address plan")
)

// AddressPlan describes the pools links are addressed from. All pools
// are IPv4 and must not overlap.
type AddressPlan struct {
	// Wired is carved into /24 slots; link i uses slot i+1, so the
	// default 10.1.0.0/16 yields 10.1.1.0, 10.1.2.0, ...
	Wired netip.Prefix
	// Backhaul is carved into /30 blocks for base station uplinks.
	Backhaul netip.Prefix
	// Radio hands out one /32 per UE. The first host is reserved as the
	// UE default gateway.
	Radio netip.Prefix

	PointToPointBits int
	SharedBits       int
}

// DefaultAddressPlan mirrors the address bases used by the original
// substation scenarios.
func DefaultAddressPlan() AddressPlan {
	return AddressPlan{
		Wired:            netip.MustParsePrefix("10.1.0.0/16"),
		Backhaul:         netip.MustParsePrefix("10.0.0.0/24"),
		Radio:            netip.MustParsePrefix("7.0.0.0/8"),
		PointToPointBits: 30,
		SharedBits:       24,
	}
}

// AddressAllocator derives link subnets from a link kind and a per-kind
// index. It holds no cursor of its own: the same (kind, index) always
// yields the same subnet, and the caller owns the index sequence.
//
// AddressAllocator is not safe for concurrent use with a shared cursor;
// the builder keeps one cursor set per Build call.
type AddressAllocator struct {
	plan AddressPlan
}

// NewAddressAllocator validates plan and returns an allocator for it.
func NewAddressAllocator(plan AddressPlan) (*AddressAllocator, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}
	return &AddressAllocator{plan: plan}, nil
}

// Plan returns the allocator's address plan.
func (a *AddressAllocator) Plan() AddressPlan { return a.plan }

// UEGateway returns the address reserved as default gateway for UEs.
func (a *AddressAllocator) UEGateway() netip.Addr {
	return a.plan.Radio.Masked().Addr().Next()
}

// Allocate returns the subnet for the index-th link of the given kind.
func (a *AddressAllocator) Allocate(kind model.LinkKind, index int) (model.Subnet, error) {
	if index < 0 {
		return model.Subnet{}, fmt.Errorf("%w: negative link index %d", ErrAddressSpaceExhausted, index)
	}

	switch kind {
	case model.LinkPointToPoint, model.LinkShared:
		slots := 1 << (24 - a.plan.Wired.Bits())
		// slot 0 is never used, the last slot is kept free
		if index+1 >= slots-1 {
			return model.Subnet{}, fmt.Errorf("%w: wired link %d exceeds %d links in %s",
				ErrAddressSpaceExhausted, index, slots-2, a.plan.Wired)
		}
		base := offset(a.plan.Wired.Masked().Addr(), uint32(index+1)<<8)
		bits := a.plan.PointToPointBits
		if kind == model.LinkShared {
			bits = a.plan.SharedBits
		}
		return model.Subnet{Prefix: netip.PrefixFrom(base, bits)}, nil

	case model.LinkBackhaul:
		blocks := 1 << (30 - a.plan.Backhaul.Bits())
		if index >= blocks {
			return model.Subnet{}, fmt.Errorf("%w: backhaul link %d exceeds %d links in %s",
				ErrAddressSpaceExhausted, index, blocks, a.plan.Backhaul)
		}
		base := offset(a.plan.Backhaul.Masked().Addr(), uint32(index)*4)
		return model.Subnet{Prefix: netip.PrefixFrom(base, 30)}, nil

	case model.LinkRadio:
		hosts := uint64(1) << (32 - a.plan.Radio.Bits())
		// network address, UE gateway and broadcast are excluded
		if uint64(index)+4 > hosts {
			return model.Subnet{}, fmt.Errorf("%w: radio link %d exceeds %d UEs in %s",
				ErrAddressSpaceExhausted, index, hosts-3, a.plan.Radio)
		}
		base := offset(a.plan.Radio.Masked().Addr(), uint32(index)+2)
		return model.Subnet{Prefix: netip.PrefixFrom(base, 32)}, nil
	}

	return model.Subnet{}, fmt.Errorf("%w: unknown link kind %q", ErrInvalidTopologyParameters, kind)
}

// Endpoints returns the interface addresses for both ends of a link
// addressed from subnet. Radio links only address the UE (B) end.
func Endpoints(kind model.LinkKind, subnet model.Subnet) (a, b netip.Addr) {
	p := subnet.Prefix
	if kind == model.LinkRadio {
		return netip.Addr{}, p.Addr()
	}
	first := p.Masked().Addr().Next()
	return first, first.Next()
}

// Overlapping returns the first pair of subnets in subnets that share an
// address, or ok=false when all of them are disjoint.
func Overlapping(subnets []model.Subnet) (x, y model.Subnet, ok bool) {
	var b netipx.IPSetBuilder
	for i, s := range subnets {
		set, err := b.IPSet()
		if err == nil && set.OverlapsPrefix(s.Prefix) {
			r := netipx.RangeOfPrefix(s.Prefix)
			for _, prev := range subnets[:i] {
				if netipx.RangeOfPrefix(prev.Prefix).Overlaps(r) {
					return prev, s, true
				}
			}
		}
		b.AddPrefix(s.Prefix)
	}
	return model.Subnet{}, model.Subnet{}, false
}

func (p AddressPlan) validate() error {
	pools := []struct {
		name    string
		prefix  netip.Prefix
		maxBits int
	}{
		{"wired", p.Wired, 22},
		{"backhaul", p.Backhaul, 30},
		{"radio", p.Radio, 30},
	}
	var b netipx.IPSetBuilder
	for _, pool := range pools {
		if !pool.prefix.IsValid() || !pool.prefix.Addr().Is4() {
			return fmt.Errorf("%w: %s pool %q is not an IPv4 prefix", ErrInvalidAddressPlan, pool.name, pool.prefix)
		}
		if pool.prefix.Bits() > pool.maxBits {
			return fmt.Errorf("%w: %s pool %s is too small", ErrInvalidAddressPlan, pool.name, pool.prefix)
		}
		set, err := b.IPSet()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAddressPlan, err)
		}
		if set.OverlapsPrefix(pool.prefix.Masked()) {
			return fmt.Errorf("%w: %s pool %s overlaps another pool", ErrInvalidAddressPlan, pool.name, pool.prefix)
		}
		b.AddPrefix(pool.prefix.Masked())
	}
	if p.PointToPointBits < 24 || p.PointToPointBits > 30 {
		return fmt.Errorf("%w: point-to-point mask /%d outside /24../30", ErrInvalidAddressPlan, p.PointToPointBits)
	}
	if p.SharedBits < 24 || p.SharedBits > 30 {
		return fmt.Errorf("%w: shared mask /%d outside /24../30", ErrInvalidAddressPlan, p.SharedBits)
	}
	return nil
}

func offset(base netip.Addr, n uint32) netip.Addr {
	b := base.As4()
	v := binary.BigEndian.Uint32(b[:]) + n
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

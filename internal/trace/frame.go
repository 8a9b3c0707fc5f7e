package trace

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/signalsfoundry/substation-sim/model"
)

// MMSPort is the ISO transport port the IEC 61850 server listens on.
const MMSPort = 102

// Frame serialises a UDP datagram from src to dst in the framing used by
// pcap files of the given link kind: PPP-encapsulated IPv4 for wired links,
// raw IPv4 for radio links.
func Frame(kind model.LinkKind, src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	if !src.Addr().Is4() || !dst.Addr().Is4() {
		return nil, fmt.Errorf("frame %s -> %s: only IPv4 is supported", src, dst)
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.Addr().AsSlice(),
		DstIP:    dst.Addr().AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	stack := []gopacket.SerializableLayer{ip, udp, gopacket.Payload(payload)}
	if kind.Wired() {
		stack = append([]gopacket.SerializableLayer{&layers.PPP{PPPType: layers.PPPTypeIPv4}}, stack...)
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true},
		stack...,
	)
	if err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

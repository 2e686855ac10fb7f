// Package packetcodec parses the raw Ethernet frame bytes carried by a
// packet-in and synthesizes the ARP reply and TCP RST the LB edge handler
// (C5) sends back out. It is built on gopacket rather than hand-rolled
// byte-offset parsing, the way the rest of the retrieval pack reaches for
// a real packet library whenever it touches the wire.
package packetcodec

import (
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/ofcore/sdn-controller/pkg/ofcore"
)

// TCP flag bits used by the edge handler's SYN/RST decisions (spec.md §4.5).
const (
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagACK = 0x10
)

// LBIdleTimeout is I_idle from spec.md's invariant I6: LB rewrite rules
// self-evict after this many seconds of inactivity.
const LBIdleTimeout = 20

// Frame is the decoded shape of one Ethernet frame, carrying only the
// fields the LB edge handler inspects.
type Frame struct {
	EthSrc, EthDst ofcore.MAC
	EtherType      ofcore.EthType

	// ARP, populated when EtherType == EthTypeARP.
	ArpIsRequest bool
	ArpSHA       ofcore.MAC
	ArpSPA       ofcore.IPv4Addr
	ArpTHA       ofcore.MAC
	ArpTPA       ofcore.IPv4Addr

	// IPv4/TCP, populated when EtherType == EthTypeIPv4.
	IPProto  ofcore.IPProto
	IPv4Src  ofcore.IPv4Addr
	IPv4Dst  ofcore.IPv4Addr
	TCPSrc   uint16
	TCPDst   uint16
	TCPFlags uint8
	TCPSeq   uint32
	TCPAck   uint32
	TCPPayloadLen int
}

// IsTCPSyn reports whether this is an IPv4/TCP frame with the SYN flag set.
// RST/ACK bits are not inspected for this decision, per spec.md §4.5.
func (f *Frame) IsTCPSyn() bool {
	return f.EtherType == ofcore.EthTypeIPv4 && f.IPProto == ofcore.ProtoTCP && f.TCPFlags&FlagSYN != 0
}

// ParseFrame decodes raw Ethernet frame bytes into a Frame. Malformed
// input returns an error wrapping ofcore.ErrProtocolViolation; callers
// drop the packet-in silently per spec.md §7.
func ParseFrame(data []byte) (*Frame, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	if err := pkt.ErrorLayer(); err != nil {
		return nil, fmt.Errorf("%w: %v", ofcore.ErrProtocolViolation, err.Error())
	}

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, fmt.Errorf("%w: no ethernet layer", ofcore.ErrProtocolViolation)
	}
	eth, _ := ethLayer.(*layers.Ethernet)

	f := &Frame{}
	copy(f.EthSrc[:], eth.SrcMAC)
	copy(f.EthDst[:], eth.DstMAC)

	if arpLayer := pkt.Layer(layers.LayerTypeARP); arpLayer != nil {
		arp, _ := arpLayer.(*layers.ARP)
		f.EtherType = ofcore.EthTypeARP
		f.ArpIsRequest = arp.Operation == layers.ARPRequest
		copy(f.ArpSHA[:], arp.SourceHwAddress)
		copy(f.ArpTHA[:], arp.DstHwAddress)
		f.ArpSPA = bytesToIPv4(arp.SourceProtAddress)
		f.ArpTPA = bytesToIPv4(arp.DstProtAddress)
		return f, nil
	}

	if ipLayer := pkt.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv4)
		f.EtherType = ofcore.EthTypeIPv4
		f.IPv4Src = bytesToIPv4(ip.SrcIP)
		f.IPv4Dst = bytesToIPv4(ip.DstIP)

		if ip.Protocol == layers.IPProtocolTCP {
			tcpLayer := pkt.Layer(layers.LayerTypeTCP)
			if tcpLayer == nil {
				return nil, fmt.Errorf("%w: IPv4/TCP with no TCP layer", ofcore.ErrProtocolViolation)
			}
			tcp, _ := tcpLayer.(*layers.TCP)
			f.IPProto = ofcore.ProtoTCP
			f.TCPSrc = uint16(tcp.SrcPort)
			f.TCPDst = uint16(tcp.DstPort)
			f.TCPSeq = tcp.Seq
			f.TCPAck = tcp.Ack
			f.TCPPayloadLen = len(tcp.LayerPayload())
			if tcp.SYN {
				f.TCPFlags |= FlagSYN
			}
			if tcp.RST {
				f.TCPFlags |= FlagRST
			}
			if tcp.ACK {
				f.TCPFlags |= FlagACK
			}
		}
		return f, nil
	}

	return f, nil
}

func bytesToIPv4(b []byte) ofcore.IPv4Addr {
	if len(b) != 4 {
		return 0
	}
	return ofcore.IPv4Addr(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

func ipv4ToBytes(a ofcore.IPv4Addr) []byte {
	return []byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

// BuildArpReply synthesizes the ARP reply described in spec.md §4.5:
// opcode=REPLY, sender_hw=vmac, sender_proto=vip, target_hw/proto swapped
// from the request, Ethernet src=vmac dst=original sender.
func BuildArpReply(req *Frame, vip ofcore.IPv4Addr, vmac ofcore.MAC) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       vmac[:],
		DstMAC:       req.ArpSHA[:],
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   vmac[:],
		SourceProtAddress: ipv4ToBytes(vip),
		DstHwAddress:      req.ArpSHA[:],
		DstProtAddress:    ipv4ToBytes(req.ArpSPA),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, fmt.Errorf("serializing arp reply: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildTCPReset synthesizes the controller-originated RST of spec.md §4.5
// and §6: zero payload/window/options, seq = received ack (0 if absent),
// ack = received seq + received payload length, TTL=64, DSCP=0.
func BuildTCPReset(req *Frame, vip ofcore.IPv4Addr, vmac ofcore.MAC) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       vmac[:],
		DstMAC:       req.EthSrc[:],
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TOS:      0, // DSCP = 0
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    ipv4ToBytes(vip),
		DstIP:    ipv4ToBytes(req.IPv4Src),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(req.TCPDst),
		DstPort: layers.TCPPort(req.TCPSrc),
		Seq:     req.TCPAck,
		Ack:     req.TCPSeq + uint32(req.TCPPayloadLen),
		RST:     true,
		Window:  0,
		DataOffset: 5,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("setting tcp checksum network layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		return nil, fmt.Errorf("serializing tcp reset: %w", err)
	}
	return buf.Bytes(), nil
}

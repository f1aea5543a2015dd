// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packet

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/stackveil/internal/profile"
)

// helloHeaders is a TLS record header followed by a ClientHello handshake
// header and nothing else, so any truncation breaks the match.
var helloHeaders = []byte{
	ContentTypeHandshake, 0x03, 0x01, 0x00, 0x04,
	HandshakeTypeClientHello, 0x00, 0x00, 0x00,
}

type frameOpts struct {
	dstPort    layers.TCPPort
	payload    []byte
	ipOptions  bool
	tcpOptions bool
	v6         bool
}

func buildFrame(t testing.TB, o frameOpts) []byte {
	t.Helper()
	if o.dstPort == 0 {
		o.dstPort = HTTPSPort
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	tcp := &layers.TCP{
		SrcPort: 51000,
		DstPort: o.dstPort,
		Seq:     1,
		ACK:     true,
		PSH:     true,
		Window:  64240,
	}
	if o.tcpOptions {
		tcp.Options = []layers.TCPOption{
			{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2},
		}
	}

	var network gopacket.SerializableLayer
	if o.v6 {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip6 := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolTCP,
			SrcIP:      net.ParseIP("2001:db8::1"),
			DstIP:      net.ParseIP("2001:db8::2"),
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip6))
		network = ip6
	} else {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{10, 0, 0, 1},
			DstIP:    net.IP{10, 0, 0, 2},
		}
		if o.ipOptions {
			ip.Options = []layers.IPv4Option{
				{OptionType: 1}, {OptionType: 1}, {OptionType: 1}, {OptionType: 1},
			}
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, network, tcp, gopacket.Payload(o.payload)))
	return buf.Bytes()
}

func TestParse_ClientHello(t *testing.T) {
	p := &profile.JA3Profile{Enabled: true}

	frame := buildFrame(t, frameOpts{payload: helloHeaders})
	res := Parse(frame, p)
	assert.True(t, res.Match)
	assert.Equal(t, StateHandshakeOK, res.State)
}

func TestParse_HeaderOffsets(t *testing.T) {
	frame := buildFrame(t, frameOpts{payload: helloHeaders, ipOptions: true, tcpOptions: true})

	// IHL and data offset must both be honoured.
	require.Equal(t, byte(0x46), frame[EthernetHeaderLen])
	assert.True(t, Parse(frame, nil).Match)
}

func TestParse_Rejections(t *testing.T) {
	appData := append([]byte(nil), helloHeaders...)
	appData[0] = ContentTypeApplicationData

	serverHello := append([]byte(nil), helloHeaders...)
	serverHello[5] = 0x02

	cases := []struct {
		name  string
		frame []byte
		state State
	}{
		{"application data record", buildFrame(t, frameOpts{payload: appData}), StatePortOK},
		{"non-443 destination", buildFrame(t, frameOpts{dstPort: 8443, payload: helloHeaders}), StateTCPOK},
		{"server hello", buildFrame(t, frameOpts{payload: serverHello}), StateRecordOK},
		{"ipv6 unsupported", buildFrame(t, frameOpts{payload: helloHeaders, v6: true}), StateStart},
		{"empty", nil, StateStart},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Parse(tc.frame, nil)
			assert.False(t, res.Match)
			assert.True(t, res.Rejected())
			assert.Equal(t, tc.state, res.State, res.State.String())
		})
	}
}

func TestParse_NonTCP(t *testing.T) {
	frame := buildFrame(t, frameOpts{payload: helloHeaders})
	frame[EthernetHeaderLen+9] = 17 // UDP

	res := Parse(frame, nil)
	assert.False(t, res.Match)
	assert.Equal(t, StateEthOK, res.State)
}

func TestParse_BogusLengthFields(t *testing.T) {
	frame := buildFrame(t, frameOpts{payload: helloHeaders})

	short := append([]byte(nil), frame...)
	short[EthernetHeaderLen] = 0x42 // IHL of 8 bytes
	assert.False(t, Parse(short, nil).Match)

	huge := append([]byte(nil), frame...)
	huge[EthernetHeaderLen] = 0x4f // IHL of 60 bytes pushes TCP past the end
	assert.False(t, Parse(huge, nil).Match)

	tcpOff := EthernetHeaderLen + IPv4MinHeaderLen
	bigDoff := append([]byte(nil), frame...)
	bigDoff[tcpOff+12] = 0xf0 // 60 byte TCP header
	assert.False(t, Parse(bigDoff, nil).Match)
}

// Truncating a matching frame anywhere before its last byte must reject, and
// the state must reflect which header was cut.
func TestParse_TruncationAtEveryBoundary(t *testing.T) {
	frame := buildFrame(t, frameOpts{payload: helloHeaders})
	require.Equal(t, EthernetHeaderLen+IPv4MinHeaderLen+TCPMinHeaderLen+len(helloHeaders), len(frame))

	ipEnd := EthernetHeaderLen + IPv4MinHeaderLen
	tcpEnd := ipEnd + TCPMinHeaderLen
	recEnd := tcpEnd + TLSRecordHeaderLen

	for n := 0; n < len(frame); n++ {
		// A full-slice expression caps capacity so any over-read would panic.
		res := Parse(frame[:n:n], nil)
		require.False(t, res.Match, "truncated at %d", n)

		var want State
		switch {
		case n < EthernetHeaderLen:
			want = StateStart
		case n < ipEnd:
			want = StateEthOK
		case n < tcpEnd:
			want = StateIPOK
		case n < recEnd:
			want = StatePortOK
		default:
			want = StateRecordOK
		}
		assert.Equal(t, want, res.State, "truncated at %d", n)
	}

	assert.True(t, Parse(frame, nil).Match)
}

func TestParse_DoesNotModifyFrame(t *testing.T) {
	frame := buildFrame(t, frameOpts{payload: helloHeaders})
	before := append([]byte(nil), frame...)
	Parse(frame, nil)
	assert.Equal(t, before, frame)
}

func TestParse_NoAllocations(t *testing.T) {
	frame := buildFrame(t, frameOpts{payload: helloHeaders})
	allocs := testing.AllocsPerRun(100, func() {
		Parse(frame, nil)
	})
	assert.Zero(t, allocs)
}

func FuzzParse(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, EthernetHeaderLen))
	f.Add([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x08, 0x00, 0x4f})

	f.Fuzz(func(t *testing.T, data []byte) {
		res := Parse(data, nil)
		if res.Match && len(data) < EthernetHeaderLen+IPv4MinHeaderLen+TCPMinHeaderLen+TLSRecordHeaderLen+HandshakeHeaderLen {
			t.Fatalf("match on %d byte frame", len(data))
		}
	})
}

func BenchmarkParse(b *testing.B) {
	frame := buildFrame(b, frameOpts{payload: helloHeaders})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Parse(frame, nil)
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/hello"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/profile"
	"grimm.is/stackveil/internal/sockops"
)

const testPID = 4242

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TCPProfiles = []config.TCPProfileConfig{
		{Name: "linux", PID: testPID, TTL: 77, NoDelay: true},
	}
	cfg.JA3Profiles = []config.JA3ProfileConfig{
		{Name: "chrome", PID: testPID, TLSVersion: 0x0303, Ciphers: []uint16{0x1301, 0xc02b}, PointFormats: []uint16{0}},
	}
	return cfg
}

func helloFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: 50000, DstPort: 443, ACK: true, PSH: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	payload := []byte{0x16, 0x03, 0x01, 0x00, 0x08, 0x01, 0x00, 0x00, 0x04, 0x03, 0x03, 0x00, 0x00}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestEngine_StartStop(t *testing.T) {
	e := New(Options{Logger: quietLogger()})

	assert.False(t, e.Running())
	assert.Nil(t, e.Stats())
	assert.Equal(t, uint64(0), e.Snapshot().TCP.ConnectionsModified)
	_, err := e.Detector()
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))

	require.NoError(t, e.Start())
	assert.True(t, e.Running())
	require.NotNil(t, e.Stats())

	err = e.Start()
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	e.Stop()
	assert.False(t, e.Running())
	assert.NotNil(t, e.Stats(), "counters stay readable after stop")
	e.Stop()
}

func TestEngine_RestartResetsCounters(t *testing.T) {
	e := New(Options{Logger: quietLogger()})
	require.NoError(t, e.Start())
	e.Stats().TCP.Errors.Add(3)
	e.Stop()

	require.NoError(t, e.Start())
	assert.Equal(t, uint64(0), e.Snapshot().TCP.Errors)
}

func TestEngine_ObserveRequiresStart(t *testing.T) {
	cfg := testConfig()
	e := New(Options{Logger: quietLogger()})
	_, err := e.Apply(context.Background(), cfg)
	require.NoError(t, err)

	frame := helloFrame(t)
	assert.Equal(t, hello.VerdictPass, e.Observe(testPID, frame))

	require.NoError(t, e.Start())
	assert.Equal(t, hello.VerdictPass, e.Observe(testPID, frame))
	assert.Equal(t, hello.VerdictPass, e.Egress(testPID, frame))

	snap := e.Snapshot()
	assert.Equal(t, uint64(2), snap.TLS.ClientHelloSeen)
	assert.Equal(t, uint64(1), snap.TLS.ClientHelloModified)
}

func TestEngine_DroppedEventsWhileStopped(t *testing.T) {
	e := New(Options{Logger: quietLogger()})
	_, err := e.Apply(context.Background(), testConfig())
	require.NoError(t, err)

	sock := &countingSocket{}
	ev := sockops.Event{Op: sockops.OpConnect, PID: testPID, Family: sockops.FamilyInet, RemotePort: 80, Socket: sock}

	e.Handle(ev)
	assert.Zero(t, sock.calls)

	require.NoError(t, e.Start())
	e.Handle(ev)
	assert.Equal(t, 2, sock.calls, "ttl and nodelay")
	assert.Equal(t, uint64(1), e.Snapshot().TCP.ConnectionsModified)
}

type countingSocket struct{ calls int }

func (s *countingSocket) SetOption(sockops.Option, int) error {
	s.calls++
	return nil
}

func TestEngine_DialerAndListener(t *testing.T) {
	e := New(Options{Logger: quietLogger(), PID: func() uint32 { return testPID }})
	_, err := e.Apply(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = e.Listen(ctx, "tcp4", "127.0.0.1:0")
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, e.Start())
	defer e.Stop()

	ln, err := e.Listen(ctx, "tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	conn, err := e.Dialer().DialStream(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ttl, err := ipv4.NewConn(conn).TTL()
	require.NoError(t, err)
	assert.Equal(t, 77, ttl)

	select {
	case c := <-accepted:
		c.Close()
	case <-ctx.Done():
		t.Fatal("no connection accepted")
	}

	snap := e.Snapshot()
	assert.Equal(t, uint64(1), snap.TCP.ConnectionsModified)
	assert.Equal(t, uint64(1), snap.TCP.PacketsProcessed)
}

func TestFromConfig_WithPID(t *testing.T) {
	e, err := FromConfig(testConfig(), quietLogger(), WithPID(testPID))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, uint32(testPID), e.Dialer().PID())

	e, err = FromConfig(testConfig(), quietLogger(), WithPID(0))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, uint32(os.Getpid()), e.Dialer().PID())
}

func TestFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.SuccessPolicy = "all_applied"
	cfg.Engine.PassivePolicy = "full"
	cfg.Engine.TriggerQueue = 1

	e, err := FromConfig(cfg, quietLogger())
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.Store().(*profile.MemoryStore)
	assert.True(t, ok)
	require.NotNil(t, e.Triggers())

	_, err = e.Apply(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	frame := helloFrame(t)
	e.Observe(testPID, frame)
	e.Observe(testPID, frame)

	select {
	case trig := <-e.Triggers():
		assert.Equal(t, uint32(testPID), trig.PID)
	default:
		t.Fatal("expected a queued trigger")
	}

	snap := e.Snapshot()
	assert.Equal(t, uint64(2), snap.TLS.ClientHelloSeen)
	assert.Equal(t, uint64(1), snap.TLS.ClientHelloModified)
	assert.Equal(t, uint64(1), snap.TLS.Errors, "second trigger hits a full queue")
}

func TestFromConfig_BadPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.SuccessPolicy = "sometimes"
	_, err := FromConfig(cfg, quietLogger())
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestFromConfig_NoTriggerQueue(t *testing.T) {
	e, err := FromConfig(config.Default(), quietLogger())
	require.NoError(t, err)
	assert.Nil(t, e.Triggers())
}

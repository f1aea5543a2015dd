// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sockops

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/profile"
	"grimm.is/stackveil/internal/stats"
)

type setCall struct {
	opt   Option
	value int
}

// recordingSocket remembers every option it was asked to set and fails the
// ones listed in fail.
type recordingSocket struct {
	mu    sync.Mutex
	calls []setCall
	fail  map[Option]bool
}

func (r *recordingSocket) SetOption(opt Option, value int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, setCall{opt, value})
	if r.fail[opt] {
		return errors.New("operation not permitted")
	}
	return nil
}

func failing(opts ...Option) *recordingSocket {
	r := &recordingSocket{fail: map[Option]bool{}}
	for _, o := range opts {
		r.fail[o] = true
	}
	return r
}

const testPID = 4242

func newTestHandler(t *testing.T, cfg Config) (*Handler, *profile.MemoryStore, *stats.Collector) {
	t.Helper()
	store := profile.NewMemoryStore()
	st := stats.NewCollector()
	logger := logging.New(logging.Config{Level: logging.LevelError, Output: &bytes.Buffer{}})
	return NewHandler(store, st, cfg, logger), store, st
}

func connect(sock SocketOptioner) Event {
	return Event{Op: OpConnect, PID: testPID, Family: FamilyInet, RemotePort: 80, Socket: sock}
}

func TestConnect_NoProfile(t *testing.T) {
	h, _, st := newTestHandler(t, Config{})
	sock := failing()

	h.Handle(connect(sock))

	assert.Empty(t, sock.calls)
	assert.Equal(t, stats.TCPSnapshot{}, st.Snapshot().TCP)
}

func TestConnect_AllSentinel(t *testing.T) {
	h, store, st := newTestHandler(t, Config{})
	require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{}))
	sock := failing()

	h.Handle(connect(sock))

	assert.Empty(t, sock.calls)
	snap := st.Snapshot().TCP
	assert.Zero(t, snap.Errors)
	assert.Equal(t, uint64(1), snap.ConnectionsModified)
}

func TestConnect_FullProfileOrder(t *testing.T) {
	h, store, st := newTestHandler(t, Config{})
	require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{
		WindowSize:    29200,
		TTL:           128,
		MSS:           1400,
		WindowScale:   8,
		SACKPermitted: true,
		Timestamps:    true,
		NoDelay:       true,
		ECN:           true,
		FastOpen:      true,
	}))

	t.Run("ipv4", func(t *testing.T) {
		sock := failing()
		h.Handle(connect(sock))
		assert.Equal(t, []setCall{
			{OptWindowClamp, 29200},
			{OptTTL, 128},
			{OptMaxSeg, 1400},
			{OptNoDelay, 1},
			{OptTOS, ECT0},
		}, sock.calls)
	})

	t.Run("ipv6", func(t *testing.T) {
		sock := failing()
		ev := connect(sock)
		ev.Family = FamilyInet6
		h.Handle(ev)
		assert.Equal(t, []setCall{
			{OptWindowClamp, 29200},
			{OptHopLimit, 128},
			{OptMaxSeg, 1400},
			{OptNoDelay, 1},
			{OptTrafficClass, ECT0},
		}, sock.calls)
	})

	assert.Equal(t, uint64(2), st.Snapshot().TCP.ConnectionsModified)
}

func TestConnect_MSSAndTTL(t *testing.T) {
	cases := []struct {
		name       string
		sock       *recordingSocket
		wantErrors uint64
	}{
		{"both succeed", failing(), 0},
		{"both fail", failing(OptMaxSeg, OptTTL), 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, store, st := newTestHandler(t, Config{})
			require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{MSS: 1460, TTL: 64}))

			h.Handle(connect(tc.sock))

			require.Len(t, tc.sock.calls, 2)
			assert.Equal(t, setCall{OptTTL, 64}, tc.sock.calls[0])
			assert.Equal(t, setCall{OptMaxSeg, 1460}, tc.sock.calls[1])

			snap := st.Snapshot().TCP
			assert.Equal(t, uint64(1), snap.ConnectionsModified)
			assert.Equal(t, tc.wantErrors, snap.Errors)
		})
	}
}

func TestConnect_FailureDoesNotAbort(t *testing.T) {
	h, store, st := newTestHandler(t, Config{})
	require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{WindowSize: 1000, MSS: 536, NoDelay: true}))
	sock := failing(OptWindowClamp)

	h.Handle(connect(sock))

	assert.Len(t, sock.calls, 3)
	assert.Equal(t, uint64(1), st.Snapshot().TCP.Errors)
}

func TestConnect_SuccessPolicy(t *testing.T) {
	prof := profile.TCPProfile{TTL: 64, MSS: 1460}

	cases := []struct {
		name     string
		policy   SuccessPolicy
		sock     *recordingSocket
		modified uint64
	}{
		{"end of sequence, clean", SuccessEndOfSequence, failing(), 1},
		{"end of sequence, failed", SuccessEndOfSequence, failing(OptTTL), 1},
		{"all applied, clean", SuccessAllApplied, failing(), 1},
		{"all applied, failed", SuccessAllApplied, failing(OptTTL), 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, store, st := newTestHandler(t, Config{Success: tc.policy})
			require.NoError(t, store.InstallTCP(testPID, prof))

			h.Handle(connect(tc.sock))

			assert.Equal(t, tc.modified, st.Snapshot().TCP.ConnectionsModified)
		})
	}
}

func TestPassive_Policies(t *testing.T) {
	prof := profile.TCPProfile{WindowSize: 8192, TTL: 64, NoDelay: true}

	t.Run("window clamp only", func(t *testing.T) {
		h, store, st := newTestHandler(t, Config{})
		require.NoError(t, store.InstallTCP(testPID, prof))
		sock := failing(OptWindowClamp)

		h.Handle(Event{Op: OpPassiveEstablished, PID: testPID, Family: FamilyInet, Socket: sock})

		assert.Equal(t, []setCall{{OptWindowClamp, 8192}}, sock.calls)
		assert.Equal(t, stats.TCPSnapshot{}, st.Snapshot().TCP)
	})

	t.Run("no window size", func(t *testing.T) {
		h, store, _ := newTestHandler(t, Config{})
		require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{TTL: 64}))
		sock := failing()

		h.Handle(Event{Op: OpPassiveEstablished, PID: testPID, Family: FamilyInet, Socket: sock})

		assert.Empty(t, sock.calls)
	})

	t.Run("full", func(t *testing.T) {
		h, store, st := newTestHandler(t, Config{Passive: PassiveFull})
		require.NoError(t, store.InstallTCP(testPID, prof))
		sock := failing(OptNoDelay)

		h.Handle(Event{Op: OpPassiveEstablished, PID: testPID, Family: FamilyInet, Socket: sock})

		assert.Len(t, sock.calls, 3)
		snap := st.Snapshot().TCP
		assert.Equal(t, uint64(1), snap.ConnectionsModified)
		assert.Equal(t, uint64(1), snap.Errors)
	})
}

func TestActiveEstablished_CountsOnce(t *testing.T) {
	h, _, st := newTestHandler(t, Config{})

	for i := 0; i < 3; i++ {
		h.Handle(Event{Op: OpActiveEstablished, PID: testPID, Family: FamilyInet6})
	}

	snap := st.Snapshot().TCP
	assert.Equal(t, uint64(3), snap.PacketsProcessed)
	assert.Zero(t, snap.ConnectionsModified)
}

func TestHandle_IgnoresOtherFamilies(t *testing.T) {
	h, store, st := newTestHandler(t, Config{})
	require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{TTL: 64}))
	sock := failing()

	for _, op := range []Op{OpConnect, OpPassiveEstablished, OpActiveEstablished} {
		h.Handle(Event{Op: op, PID: testPID, Family: 1, Socket: sock})
	}

	assert.Empty(t, sock.calls)
	assert.Equal(t, stats.TCPSnapshot{}, st.Snapshot().TCP)
}

func TestConnect_JA3Tag(t *testing.T) {
	enabled, err := profile.NewJA3Profile(0x0303, []uint16{0x1301}, nil, nil, nil, true)
	require.NoError(t, err)
	disabled := enabled
	disabled.Enabled = false

	cases := []struct {
		name   string
		ja3    *profile.JA3Profile
		port   uint16
		passed uint64
	}{
		{"enabled to 443", &enabled, 443, 1},
		{"enabled to 8443", &enabled, 8443, 0},
		{"disabled to 443", &disabled, 443, 0},
		{"absent", nil, 443, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, store, st := newTestHandler(t, Config{})
			if tc.ja3 != nil {
				require.NoError(t, store.InstallJA3(testPID, *tc.ja3))
			}
			ev := connect(failing())
			ev.RemotePort = tc.port

			h.Handle(ev)

			assert.Equal(t, tc.passed, st.Snapshot().TLS.PacketsPassed)
			assert.Zero(t, st.Snapshot().TCP.ConnectionsModified)
		})
	}
}

func TestHandler_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	store := profile.NewMemoryStore()
	require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{MSS: 1460}))
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf, JSON: true})
	h := NewHandler(store, stats.NewCollector(), Config{}, logger)

	h.Handle(connect(failing(OptMaxSeg)))

	out := buf.String()
	assert.Contains(t, out, `"option":"TCP_MAXSEG"`)
	assert.Contains(t, out, `"pid":4242`)
	assert.Contains(t, out, "operation not permitted")
}

func TestHandler_Concurrent(t *testing.T) {
	h, store, st := newTestHandler(t, Config{})
	require.NoError(t, store.InstallTCP(testPID, profile.TCPProfile{TTL: 64}))

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Handle(connect(failing()))
			h.Handle(Event{Op: OpActiveEstablished, PID: testPID, Family: FamilyInet})
		}()
	}
	wg.Wait()

	snap := st.Snapshot().TCP
	assert.Equal(t, uint64(n), snap.ConnectionsModified)
	assert.Equal(t, uint64(n), snap.PacketsProcessed)
}

func TestParsePolicies(t *testing.T) {
	s, err := ParseSuccessPolicy("ALL_APPLIED")
	require.NoError(t, err)
	assert.Equal(t, SuccessAllApplied, s)

	s, err = ParseSuccessPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SuccessEndOfSequence, s)

	_, err = ParseSuccessPolicy("sometimes")
	assert.Error(t, err)

	p, err := ParsePassivePolicy("full")
	require.NoError(t, err)
	assert.Equal(t, PassiveFull, p)
	assert.Equal(t, "window_clamp_only", PassiveWindowClampOnly.String())

	_, err = ParsePassivePolicy("half")
	assert.Error(t, err)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package profile

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/cilium/ebpf"

	"grimm.is/stackveil/internal/errors"
)

// Pinned map names, shared with the kernel-side programs.
const (
	TCPMapName = "tcp_profiles"
	JA3MapName = "ja3_profiles"
)

// Value sizes of the kernel records, including C padding.
const (
	tcpValueSize = 20
	ja3ValueSize = 246
)

// TCPMapSpec describes the pid -> tcp_profile hash map.
func TCPMapSpec() *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       TCPMapName,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  tcpValueSize,
		MaxEntries: MaxTCPProfiles,
	}
}

// JA3MapSpec describes the pid -> ja3_profile hash map.
func JA3MapSpec() *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       JA3MapName,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  ja3ValueSize,
		MaxEntries: MaxJA3Profiles,
	}
}

// BPFStore keeps profiles in BPF hash maps so kernel programs and userspace
// share one table.
type BPFStore struct {
	tcp *ebpf.Map
	ja3 *ebpf.Map
}

var _ Store = (*BPFStore)(nil)

// NewBPFStore creates fresh, unpinned profile maps.
func NewBPFStore() (*BPFStore, error) {
	tcp, err := ebpf.NewMap(TCPMapSpec())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "create tcp profile map")
	}
	ja3, err := ebpf.NewMap(JA3MapSpec())
	if err != nil {
		tcp.Close()
		return nil, errors.Wrap(err, errors.KindUnavailable, "create ja3 profile map")
	}
	return &BPFStore{tcp: tcp, ja3: ja3}, nil
}

// OpenPinned opens maps the loader pinned under dir (usually in bpffs) and
// checks their layout.
func OpenPinned(dir string) (*BPFStore, error) {
	tcp, err := openPinned(filepath.Join(dir, TCPMapName), TCPMapSpec())
	if err != nil {
		return nil, err
	}
	ja3, err := openPinned(filepath.Join(dir, JA3MapName), JA3MapSpec())
	if err != nil {
		tcp.Close()
		return nil, err
	}
	return &BPFStore{tcp: tcp, ja3: ja3}, nil
}

func openPinned(path string, want *ebpf.MapSpec) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindNotFound, "load pinned map"), "path", path)
	}
	if m.KeySize() != want.KeySize || m.ValueSize() != want.ValueSize {
		m.Close()
		return nil, errors.Errorf(errors.KindValidation,
			"pinned map %s has key/value size %d/%d, want %d/%d",
			path, m.KeySize(), m.ValueSize(), want.KeySize, want.ValueSize)
	}
	return m, nil
}

// Close releases both map file descriptors.
func (s *BPFStore) Close() error {
	return errors.Join(s.tcp.Close(), s.ja3.Close())
}

func (s *BPFStore) LookupTCP(pid uint32) (TCPProfile, bool) {
	var v tcpRecord
	if err := s.tcp.Lookup(pid, &v); err != nil {
		return TCPProfile{}, false
	}
	return v.profile, true
}

func (s *BPFStore) LookupJA3(pid uint32) (JA3Profile, bool) {
	var v ja3Record
	if err := s.ja3.Lookup(pid, &v); err != nil {
		return JA3Profile{}, false
	}
	return v.profile, true
}

func (s *BPFStore) InstallTCP(pid uint32, p TCPProfile) error {
	if err := p.Validate(); err != nil {
		return errors.Attr(err, "pid", pid)
	}
	return mapUpdate(s.tcp, pid, &tcpRecord{profile: p})
}

func (s *BPFStore) InstallJA3(pid uint32, p JA3Profile) error {
	if err := p.Validate(); err != nil {
		return errors.Attr(err, "pid", pid)
	}
	return mapUpdate(s.ja3, pid, &ja3Record{profile: p})
}

func (s *BPFStore) RemoveTCP(pid uint32) error {
	return mapDelete(s.tcp, pid)
}

func (s *BPFStore) RemoveJA3(pid uint32) error {
	return mapDelete(s.ja3, pid)
}

func mapUpdate(m *ebpf.Map, pid uint32, v any) error {
	if err := m.Update(pid, v, ebpf.UpdateAny); err != nil {
		kind := errors.KindInternal
		if errors.Is(err, syscall.E2BIG) {
			kind = errors.KindCapacity
		}
		return errors.Attr(errors.Wrapf(err, kind, "update %s", m.String()), "pid", pid)
	}
	return nil
}

func mapDelete(m *ebpf.Map, pid uint32) error {
	if err := m.Delete(pid); err != nil {
		kind := errors.KindInternal
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			kind = errors.KindNotFound
		}
		return errors.Attr(errors.Wrapf(err, kind, "delete from %s", m.String()), "pid", pid)
	}
	return nil
}

// tcpRecord is the 20-byte struct tcp_profile layout.
type tcpRecord struct {
	profile TCPProfile
}

func (r *tcpRecord) MarshalBinary() ([]byte, error) {
	p := r.profile
	b := make([]byte, tcpValueSize)
	binary.NativeEndian.PutUint16(b[0:], p.WindowSize)
	b[2] = p.TTL
	binary.NativeEndian.PutUint16(b[4:], p.MSS)
	b[6] = p.WindowScale
	b[7] = boolByte(p.SACKPermitted)
	b[8] = boolByte(p.Timestamps)
	b[9] = boolByte(p.NoDelay)
	binary.NativeEndian.PutUint32(b[12:], p.InitialCongestionWindow)
	b[16] = boolByte(p.ECN)
	b[17] = boolByte(p.FastOpen)
	return b, nil
}

func (r *tcpRecord) UnmarshalBinary(b []byte) error {
	if len(b) < tcpValueSize {
		return fmt.Errorf("tcp_profile record too short: %d bytes", len(b))
	}
	r.profile = TCPProfile{
		WindowSize:              binary.NativeEndian.Uint16(b[0:]),
		TTL:                     b[2],
		MSS:                     binary.NativeEndian.Uint16(b[4:]),
		WindowScale:             b[6],
		SACKPermitted:           b[7] != 0,
		Timestamps:              b[8] != 0,
		NoDelay:                 b[9] != 0,
		InitialCongestionWindow: binary.NativeEndian.Uint32(b[12:]),
		ECN:                     b[16] != 0,
		FastOpen:                b[17] != 0,
	}
	return nil
}

// ja3Record is the struct ja3_profile layout: u16 lists with u16 counts, u8
// point formats, enabled flag and padding to 2-byte alignment.
type ja3Record struct {
	profile JA3Profile
}

const (
	ja3OffCipherCount = 2
	ja3OffCiphers     = 4
	ja3OffExtCount    = ja3OffCiphers + 2*MaxCiphers
	ja3OffExts        = ja3OffExtCount + 2
	ja3OffCurveCount  = ja3OffExts + 2*MaxExtensions
	ja3OffCurves      = ja3OffCurveCount + 2
	ja3OffFormatCount = ja3OffCurves + 2*MaxCurves
	ja3OffFormats     = ja3OffFormatCount + 1
	ja3OffEnabled     = ja3OffFormats + MaxPointFormats
)

func (r *ja3Record) MarshalBinary() ([]byte, error) {
	p := &r.profile
	b := make([]byte, ja3ValueSize)
	ne := binary.NativeEndian
	ne.PutUint16(b[0:], p.TLSVersion)
	ne.PutUint16(b[ja3OffCipherCount:], p.CipherCount)
	for i, v := range p.Ciphers {
		ne.PutUint16(b[ja3OffCiphers+2*i:], v)
	}
	ne.PutUint16(b[ja3OffExtCount:], p.ExtensionCount)
	for i, v := range p.Extensions {
		ne.PutUint16(b[ja3OffExts+2*i:], v)
	}
	ne.PutUint16(b[ja3OffCurveCount:], p.CurveCount)
	for i, v := range p.Curves {
		ne.PutUint16(b[ja3OffCurves+2*i:], v)
	}
	b[ja3OffFormatCount] = p.FormatCount
	copy(b[ja3OffFormats:], p.PointFormats[:])
	b[ja3OffEnabled] = boolByte(p.Enabled)
	return b, nil
}

func (r *ja3Record) UnmarshalBinary(b []byte) error {
	if len(b) < ja3OffEnabled+1 {
		return fmt.Errorf("ja3_profile record too short: %d bytes", len(b))
	}
	p := &r.profile
	ne := binary.NativeEndian
	p.TLSVersion = ne.Uint16(b[0:])
	p.CipherCount = ne.Uint16(b[ja3OffCipherCount:])
	for i := range p.Ciphers {
		p.Ciphers[i] = ne.Uint16(b[ja3OffCiphers+2*i:])
	}
	p.ExtensionCount = ne.Uint16(b[ja3OffExtCount:])
	for i := range p.Extensions {
		p.Extensions[i] = ne.Uint16(b[ja3OffExts+2*i:])
	}
	p.CurveCount = ne.Uint16(b[ja3OffCurveCount:])
	for i := range p.Curves {
		p.Curves[i] = ne.Uint16(b[ja3OffCurves+2*i:])
	}
	p.FormatCount = b[ja3OffFormatCount]
	copy(p.PointFormats[:], b[ja3OffFormats:ja3OffFormats+MaxPointFormats])
	p.Enabled = b[ja3OffEnabled] != 0
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

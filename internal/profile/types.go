// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package profile holds the per-process TCP and JA3 fingerprint profiles and
// the stores that map a process identifier to them.
package profile

import (
	"fmt"

	"grimm.is/stackveil/internal/errors"
)

// Table capacities and bounded list sizes.
const (
	MaxTCPProfiles = 1024
	MaxJA3Profiles = 256

	MaxCiphers      = 64
	MaxExtensions   = 32
	MaxCurves       = 16
	MaxPointFormats = 8

	// MaxWindowScale is the largest shift RFC 7323 allows.
	MaxWindowScale = 14
)

// TCPProfile describes the TCP/IP stack parameters to present for a process.
// A zero (or false) field means "leave the kernel default alone", so TTL and
// window size of 0 cannot be requested.
type TCPProfile struct {
	WindowSize              uint16 `json:"window_size"`
	TTL                     uint8  `json:"ttl"`
	MSS                     uint16 `json:"mss"`
	WindowScale             uint8  `json:"window_scale"`
	SACKPermitted           bool   `json:"sack_permitted"`
	Timestamps              bool   `json:"timestamps"`
	NoDelay                 bool   `json:"no_delay"`
	InitialCongestionWindow uint32 `json:"initial_congestion_window"`
	ECN                     bool   `json:"ecn"`
	FastOpen                bool   `json:"fast_open"`
}

// IsZero reports whether every field is at its sentinel.
func (p TCPProfile) IsZero() bool {
	return p == TCPProfile{}
}

// Validate checks value ranges that the fixed-width fields cannot enforce.
func (p TCPProfile) Validate() error {
	if p.WindowScale > MaxWindowScale {
		return errors.Errorf(errors.KindValidation, "window_scale %d exceeds %d", p.WindowScale, MaxWindowScale)
	}
	return nil
}

// JA3Profile is the TLS ClientHello shape a process should present. The
// bounded lists keep an explicit count next to a fixed array, matching the
// record layout shared with the kernel side.
type JA3Profile struct {
	TLSVersion uint16

	CipherCount uint16
	Ciphers     [MaxCiphers]uint16

	ExtensionCount uint16
	Extensions     [MaxExtensions]uint16

	CurveCount uint16
	Curves     [MaxCurves]uint16

	FormatCount  uint8
	PointFormats [MaxPointFormats]uint8

	Enabled bool
}

// NewJA3Profile builds a profile from slices, rejecting lists that exceed
// their capacity.
func NewJA3Profile(version uint16, ciphers, extensions, curves []uint16, formats []uint8, enabled bool) (JA3Profile, error) {
	p := JA3Profile{TLSVersion: version, Enabled: enabled}

	switch {
	case len(ciphers) > MaxCiphers:
		return p, listTooLong("ciphers", len(ciphers), MaxCiphers)
	case len(extensions) > MaxExtensions:
		return p, listTooLong("extensions", len(extensions), MaxExtensions)
	case len(curves) > MaxCurves:
		return p, listTooLong("curves", len(curves), MaxCurves)
	case len(formats) > MaxPointFormats:
		return p, listTooLong("point_formats", len(formats), MaxPointFormats)
	}

	p.CipherCount = uint16(copy(p.Ciphers[:], ciphers))
	p.ExtensionCount = uint16(copy(p.Extensions[:], extensions))
	p.CurveCount = uint16(copy(p.Curves[:], curves))
	p.FormatCount = uint8(copy(p.PointFormats[:], formats))
	return p, nil
}

// Validate rejects records whose counts exceed their list capacity. The
// engine never calls this on the read path; writers must.
func (p *JA3Profile) Validate() error {
	switch {
	case int(p.CipherCount) > MaxCiphers:
		return listTooLong("ciphers", int(p.CipherCount), MaxCiphers)
	case int(p.ExtensionCount) > MaxExtensions:
		return listTooLong("extensions", int(p.ExtensionCount), MaxExtensions)
	case int(p.CurveCount) > MaxCurves:
		return listTooLong("curves", int(p.CurveCount), MaxCurves)
	case int(p.FormatCount) > MaxPointFormats:
		return listTooLong("point_formats", int(p.FormatCount), MaxPointFormats)
	}
	return nil
}

// CipherList returns the configured ciphers. Counts are clamped to capacity so
// an unvalidated record can't cause an out-of-range slice.
func (p *JA3Profile) CipherList() []uint16 {
	return p.Ciphers[:min(int(p.CipherCount), MaxCiphers)]
}

func (p *JA3Profile) ExtensionList() []uint16 {
	return p.Extensions[:min(int(p.ExtensionCount), MaxExtensions)]
}

func (p *JA3Profile) CurveList() []uint16 {
	return p.Curves[:min(int(p.CurveCount), MaxCurves)]
}

func (p *JA3Profile) PointFormatList() []uint8 {
	return p.PointFormats[:min(int(p.FormatCount), MaxPointFormats)]
}

func listTooLong(name string, n, limit int) error {
	err := errors.New(errors.KindValidation, fmt.Sprintf("%s count %d exceeds capacity %d", name, n, limit))
	return errors.Attr(err, "list", name)
}

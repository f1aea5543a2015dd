// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package replay runs captured traffic through the ClientHello detector and
// checks the fingerprints the capture actually carries against the profile.
package replay

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/dreadl0ck/ja3"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/hello"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/packet"
	"grimm.is/stackveil/internal/profile"
)

// emptyDigest is md5(""), which ja3 returns for hellos it cannot parse.
const emptyDigest = "d41d8cd98f00b204e9800998ecf8427e"

// Report summarises one replay.
type Report struct {
	Frames       int `json:"frames"`
	ClientHellos int `json:"client_hellos"`
	// Mismatches counts hellos whose JA3 differs from the profile's.
	Mismatches int `json:"mismatches"`
	// Unparsed counts hellos the JA3 library could not digest. They are
	// also counted as mismatches.
	Unparsed int `json:"unparsed"`
	// Expected is the profile's JA3 hash.
	Expected string `json:"expected"`
	// Digests maps each observed JA3 hash to its count.
	Digests map[string]int `json:"digests"`
	// Disabled is set when the profile is switched off. The detector ignores
	// such pids, so no hellos are matched or digested.
	Disabled bool `json:"disabled"`
}

// Replayer feeds frames to a detector attributed to a single pid.
type Replayer struct {
	profiles profile.Reader
	observer Observer
	logger   *logging.Logger
}

// Observer is the socket-filter entry point. *hello.Detector and
// *engine.Engine satisfy it.
type Observer interface {
	Observe(pid uint32, frame []byte) hello.Verdict
}

// New creates a replayer. A nil logger uses the package default.
func New(profiles profile.Reader, observer Observer, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.WithComponent("replay")
	}
	return &Replayer{profiles: profiles, observer: observer, logger: logger}
}

// File replays a pcap file.
func (r *Replayer) File(ctx context.Context, path string, pid uint32) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.KindNotFound, "capture not found")
		}
		return nil, errors.Wrap(err, errors.KindInternal, "open capture")
	}
	defer f.Close()

	return r.Read(ctx, f, pid)
}

// Read replays a pcap stream. Only Ethernet captures are accepted.
func (r *Replayer) Read(ctx context.Context, rd io.Reader, pid uint32) (*Report, error) {
	pr, err := pcapgo.NewReader(rd)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "read capture header")
	}
	if pr.LinkType() != layers.LinkTypeEthernet {
		return nil, errors.Errorf(errors.KindValidation, "unsupported link type %s", pr.LinkType())
	}

	p, ok := r.profiles.LookupJA3(pid)
	if !ok {
		return nil, errors.Attr(errors.New(errors.KindNotFound, "no ja3 profile"), "pid", pid)
	}

	report := &Report{Expected: p.JA3Hash(), Digests: make(map[string]int), Disabled: !p.Enabled}
	src := gopacket.NewPacketSource(pr, pr.LinkType())

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pkt, err := src.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, errors.Wrap(err, errors.KindInternal, "read capture")
		}

		report.Frames++
		frame := pkt.Data()
		r.observer.Observe(pid, frame)

		if report.Disabled || !packet.Parse(frame, &p).Match {
			continue
		}
		report.ClientHellos++
		r.digest(report, pkt)
	}

	r.logger.Debug("Replay finished",
		"pid", pid,
		"frames", report.Frames,
		"client_hellos", report.ClientHellos,
		"mismatches", report.Mismatches,
		"disabled", report.Disabled)
	return report, nil
}

func (r *Replayer) digest(report *Report, pkt gopacket.Packet) {
	sum := ja3.DigestPacket(pkt)
	digest := hex.EncodeToString(sum[:])

	if digest == emptyDigest {
		report.Unparsed++
		report.Mismatches++
		return
	}

	report.Digests[digest]++
	if digest != report.Expected {
		report.Mismatches++
		r.logger.Debug("JA3 mismatch", "expected", report.Expected, "observed", digest)
	}
}

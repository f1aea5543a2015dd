// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package profile

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// JA3String renders the profile as a JA3 fingerprint string:
// TLSVersion,Ciphers,Extensions,EllipticCurves,EllipticCurvePointFormats
// with list members joined by '-'.
func (p *JA3Profile) JA3String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(p.TLSVersion)))
	b.WriteByte(',')
	joinUint16(&b, p.CipherList())
	b.WriteByte(',')
	joinUint16(&b, p.ExtensionList())
	b.WriteByte(',')
	joinUint16(&b, p.CurveList())
	b.WriteByte(',')
	for i, f := range p.PointFormatList() {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(f)))
	}
	return b.String()
}

// JA3Hash is the hex MD5 digest of JA3String.
func (p *JA3Profile) JA3Hash() string {
	sum := md5.Sum([]byte(p.JA3String()))
	return hex.EncodeToString(sum[:])
}

func joinUint16(b *strings.Builder, vals []uint16) {
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
}

// mkdirent.go generates the raw 32-byte directory-entry slots for a
// newly created file or directory: the 8.3 short-name fallback and, for
// names that don't fit 8.3, the LFN entries needed to recover the long
// name. Grounded on the same original_source/dir_entry.rs layout the
// reader half (direntry.go) decodes, since the standard requires the
// writer to reproduce it byte for byte (spec §8: "serializing and
// parsing a FAT32 directory entry builder's emitted entry yields
// identical name, size, first-cluster, and timestamps" — this is the
// supplemented write-side counterpart, SPEC_FULL.md §4).
package fat32

import (
	"strconv"
	"time"
)

// GenerateShortName derives an 8.3 short name for longName, appending a
// numeric tail (~1, ~2, ...) when the truncated base collides with an
// existing entry, the same scheme DOS/Windows long-filename-aware FAT32
// drivers use.
func GenerateShortName(longName string, exists func(string) bool) string {
	base, ext := splitExt(longName)
	base = sanitize83(base)
	ext = sanitize83(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	fitsPlain := len(base) <= 8 && !needsLFN(longName)
	if fitsPlain {
		name := pad83(base, ext)
		if !exists(name) {
			return name
		}
	}

	for n := 1; n <= 999999; n++ {
		tail := numericTail(n)
		baseLen := 8 - len(tail)
		if baseLen > len(base) {
			baseLen = len(base)
		}
		if baseLen < 0 {
			baseLen = 0
		}
		candidate := base
		if len(candidate) > baseLen {
			candidate = candidate[:baseLen]
		}
		name := pad83(candidate+tail, ext)
		if !exists(name) {
			return name
		}
	}
	return pad83(base, ext)
}

func numericTail(n int) string {
	return "~" + strconv.Itoa(n)
}

func splitExt(name string) (base, ext string) {
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}

func needsLFN(name string) bool {
	base, ext := splitExt(name)
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	for _, c := range base + ext {
		if c != rune(sanitizeRune(byte(c))) || c > 0x7e {
			return true
		}
	}
	return false
}

// sanitize83 upper-cases and strips characters the 8.3 namespace
// forbids (spaces and the usual shell/path metacharacters), matching
// the subset FAT32 drivers reject in a short name.
func sanitize83(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '.' {
			continue
		}
		out = append(out, sanitizeRune(c))
	}
	return string(out)
}

func sanitizeRune(c byte) byte {
	switch {
	case c >= 'a' && c <= 'z':
		return c - 'a' + 'A'
	case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return c
	case c == '_' || c == '-' || c == '~' || c == '$' || c == '!' || c == '#' || c == '%' || c == '&' || c == '@' || c == '^' || c == '(' || c == ')':
		return c
	default:
		return '_'
	}
}

func pad83(base, ext string) string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = ' '
	}
	copy(b, base)
	e := make([]byte, 3)
	for i := range e {
		e[i] = ' '
	}
	copy(e, ext)
	return string(b) + string(e)
}

// BuildEntries produces the raw directory slots (LFN entries in
// on-disk, highest-order-first order, followed by the standard entry)
// needed to create one new directory entry.
func BuildEntries(longName, shortName string, attr Attr, firstCluster, fileSize uint32, when time.Time) [][]byte {
	var slots [][]byte
	if needsLFN(longName) {
		sum := checksum([shortNameLen]byte([]byte(shortName)))
		units := encodeUTF16(longName)
		order := (len(units) + lfnPartLen - 1) / lfnPartLen
		if order == 0 {
			order = 1
		}
		for o := order; o >= 1; o-- {
			lo := (o - 1) * lfnPartLen
			hi := lo + lfnPartLen
			chunk := make([]uint16, lfnPartLen)
			for i := range chunk {
				if lo+i < len(units) {
					chunk[i] = units[lo+i]
				} else if lo+i == len(units) {
					chunk[i] = 0
				} else {
					chunk[i] = 0xFFFF
				}
			}
			_ = hi
			slots = append(slots, buildLFNSlot(o, o == order, sum, [lfnPartLen]uint16(chunk)))
		}
	}
	slots = append(slots, buildStandardSlot(shortName, attr, firstCluster, fileSize, when))
	return slots
}

func encodeUTF16(s string) []uint16 {
	raw, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return units
}

func buildLFNSlot(order int, last bool, checksum uint8, units [lfnPartLen]uint16) []byte {
	slot := make([]byte, dirEntrySize)
	o := byte(order)
	if last {
		o |= lfnLastFlag
	}
	slot[0] = o
	writeUnits := func(dst []byte, u []uint16) {
		for i, v := range u {
			dst[2*i] = byte(v)
			dst[2*i+1] = byte(v >> 8)
		}
	}
	writeUnits(slot[1:11], units[0:5])
	slot[11] = byte(attrLFN)
	slot[12] = 0
	slot[13] = checksum
	writeUnits(slot[14:26], units[5:11])
	slot[26] = 0
	slot[27] = 0
	writeUnits(slot[28:32], units[11:13])
	return slot
}

func buildStandardSlot(shortName string, attr Attr, firstCluster, fileSize uint32, when time.Time) []byte {
	slot := make([]byte, dirEntrySize)
	copy(slot[:shortNameLen], []byte(shortName))
	slot[11] = byte(attr)
	date, clock, tenMS := timeToFAT(when)
	slot[13] = tenMS
	slot[14], slot[15] = byte(clock), byte(clock>>8)
	slot[16], slot[17] = byte(date), byte(date>>8)
	slot[18], slot[19] = byte(date), byte(date>>8)
	slot[20], slot[21] = byte(firstCluster>>16), byte(firstCluster>>24)
	slot[22], slot[23] = byte(clock), byte(clock>>8)
	slot[24], slot[25] = byte(date), byte(date>>8)
	slot[26], slot[27] = byte(firstCluster), byte(firstCluster>>8)
	slot[28] = byte(fileSize)
	slot[29] = byte(fileSize >> 8)
	slot[30] = byte(fileSize >> 16)
	slot[31] = byte(fileSize >> 24)
	return slot
}

func timeToFAT(t time.Time) (date, clock uint16, tenMS uint8) {
	y := t.Year() - 1980
	if y < 0 {
		y = 0
	}
	date = uint16(y)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	clock = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	tenMS = uint8((t.Second()%2)*100) + uint8(t.Nanosecond()/10_000_000)
	return date, clock, tenMS
}

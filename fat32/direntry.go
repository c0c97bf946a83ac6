package fat32

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

const (
	dirEntrySize  = 32
	shortNameLen  = 11
	lfnPartLen    = 13 // UTF-16 code units packed per LFN entry
	lfnLastFlag   = 1 << 6
	lfnOrderMask  = 0b01_1111
)

// Attr is the directory-entry attribute byte, matching the FAT32
// standard's bit assignment.
type Attr uint8

const (
	AttrReadOnly Attr = 0x01
	AttrHidden   Attr = 0x02
	AttrSystem   Attr = 0x04
	AttrVolumeID Attr = 0x08
	AttrDir      Attr = 0x10
	AttrArchive  Attr = 0x20
	attrLFN      Attr = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// ErrBadEntry is returned when a 32-byte slot fails validation (spec
// §6: the builder "validates order, checksum..., and final-flag
// rules").
var ErrBadEntry = errors.New("fat32: invalid directory entry")

// Entry is one fully decoded directory entry, preferring the long
// name when present, matching original_source's DirEntry::name.
type Entry struct {
	ShortName   string
	LongName    string
	Attr        Attr
	FirstCluster uint32
	FileSize    uint32
	CreateTime  time.Time
	ModifyTime  time.Time
	AccessTime  time.Time

	// RunStart/RunSlots locate the entry's slots in the directory's raw
	// byte stream (RunStart is a byte offset, a multiple of
	// dirEntrySize; RunSlots counts the LFN run plus the standard entry
	// that terminates it), letting Unlink tombstone exactly those bytes
	// without needing to re-decode the whole directory.
	RunStart int
	RunSlots int
}

// Name returns the long name if set, otherwise the short name.
func (e *Entry) Name() string {
	if e.LongName != "" {
		return e.LongName
	}
	return e.ShortName
}

// IsDir reports whether the entry is a subdirectory.
func (e *Entry) IsDir() bool { return e.Attr&AttrDir != 0 }

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// builder accumulates a run of LFN entries (stored newest-order-first
// on disk) ahead of the standard 8.3 entry that terminates the run,
// following original_source's DirEntryBuilder state machine exactly.
type builder struct {
	currOrder uint8
	checksum  uint8
	utf16     []uint16
}

// ParseDirBlock decodes a directory's raw cluster bytes (a multiple of
// 32 bytes) into entries, skipping deleted (0xE5) slots and stopping
// at the first 0x00 marker (end of directory).
func ParseDirBlock(raw []byte) ([]Entry, error) {
	var entries []Entry
	var b *builder
	runStart := 0
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		slot := raw[off : off+dirEntrySize]
		if slot[0] == 0x00 {
			break
		}
		if slot[0] == 0xE5 {
			b = nil
			continue
		}
		if b == nil {
			runStart = off
		}
		attr := Attr(slot[11])
		if attr&attrLFN == attrLFN {
			if b == nil {
				b = &builder{}
			}
			if err := b.readLFN(slot); err != nil {
				return nil, err
			}
			continue
		}
		e, err := decodeStandardEntry(slot)
		if err != nil {
			return nil, err
		}
		if b != nil {
			if b.currOrder != 1 {
				return nil, ErrBadEntry
			}
			sum := checksum([shortNameLen]byte(padShortName(slot[:shortNameLen])))
			if sum != b.checksum {
				return nil, ErrBadEntry
			}
			e.LongName = b.decodedName()
			b = nil
		}
		e.RunStart = runStart
		e.RunSlots = (off - runStart) / dirEntrySize + 1
		entries = append(entries, *e)
	}
	return entries, nil
}

func padShortName(raw []byte) []byte {
	out := make([]byte, shortNameLen)
	copy(out, raw)
	return out
}

func (b *builder) readLFN(slot []byte) error {
	order := slot[0] & lfnOrderMask
	if order == 0 {
		return ErrBadEntry
	}
	isFirst := b.currOrder == 0
	if isFirst {
		b.utf16 = make([]uint16, int(order)*lfnPartLen)
	} else if order != b.currOrder-1 {
		return ErrBadEntry
	}
	b.currOrder = order

	isFinal := slot[0]&lfnLastFlag != 0
	if isFirst != isFinal {
		return ErrBadEntry
	}
	if slot[12] != 0 || slot[26] != 0 {
		return ErrBadEntry
	}
	sum := slot[13]
	if isFirst {
		b.checksum = sum
	} else if b.checksum != sum {
		return ErrBadEntry
	}

	off := (int(order) - 1) * lfnPartLen
	part := lfnPart(slot)
	copy(b.utf16[off:off+lfnPartLen], part[:])
	return nil
}

func (b *builder) decodedName() string {
	n := 0
	for n < len(b.utf16) && b.utf16[n] != 0 && b.utf16[n] != 0xFFFF {
		n++
	}
	raw := make([]byte, 2*n)
	for i, u := range b.utf16[:n] {
		raw[2*i] = byte(u)
		raw[2*i+1] = byte(u >> 8)
	}
	out, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(out)
}

func lfnPart(slot []byte) [lfnPartLen]uint16 {
	var out [lfnPartLen]uint16
	i := 0
	read := func(b []byte) {
		for p := 0; p+1 < len(b); p += 2 {
			out[i] = uint16(b[p]) | uint16(b[p+1])<<8
			i++
		}
	}
	read(slot[1:11])
	read(slot[14:26])
	read(slot[28:32])
	return out
}

func decodeStandardEntry(slot []byte) (*Entry, error) {
	nameLen := 0
	for nameLen < shortNameLen && slot[nameLen] != 0 {
		nameLen++
	}
	e := &Entry{
		ShortName:    strings.TrimRight(string(slot[:nameLen]), " "),
		Attr:         Attr(slot[11]),
		FirstCluster: uint32(slot[26]) | uint32(slot[27])<<8 | uint32(slot[20])<<16 | uint32(slot[21])<<24,
		FileSize:     uint32(slot[28]) | uint32(slot[29])<<8 | uint32(slot[30])<<16 | uint32(slot[31])<<24,
	}
	createTime := uint16(slot[14]) | uint16(slot[15])<<8
	createDate := uint16(slot[16]) | uint16(slot[17])<<8
	createTenMS := slot[13]
	accessDate := uint16(slot[18]) | uint16(slot[19])<<8
	modifyTime := uint16(slot[22]) | uint16(slot[23])<<8
	modifyDate := uint16(slot[24]) | uint16(slot[25])<<8

	e.CreateTime = fatToTime(createDate, createTime, createTenMS)
	e.ModifyTime = fatToTime(modifyDate, modifyTime, 0)
	e.AccessTime = fatToTime(accessDate, 0, 0)
	return e, nil
}

func fatToTime(date, clock uint16, tenMS uint8) time.Time {
	year := 1980 + int(date>>9)
	month := int((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	hour := int((clock >> 11) & 0x1F)
	minute := int((clock >> 5) & 0x3F)
	sec := int(clock&0x1F)*2 + int(tenMS/100)
	nsec := int(tenMS%100) * 10 * int(time.Millisecond)
	return time.Date(year, time.Month(month), day, hour, minute, sec, nsec, time.UTC)
}

func checksum(shortName [shortNameLen]byte) uint8 {
	var sum uint8
	for _, c := range shortName {
		sum = (sum >> 1) + (sum&1)<<7
		sum += c
	}
	return sum
}

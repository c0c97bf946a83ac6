package fat32

import (
	"encoding/binary"
	"errors"
	"sync"

	"rvkernel/blockdev"
)

const (
	fatEntryMask        = 0x0fff_ffff
	reservedClusters    = 2
	endOfChain          = 0x0fff_ffff
	endOfChainThreshold = 0x0fff_fff8
	fsInfoLeadSig       = 0x41615252
	fsInfoStrucSig      = 0x61417272
	fsInfoTrailSig      = 0xaa550000
)

// ErrCorrupt is returned when FSInfo's fixed signatures don't match
// (spec §6: "FSInfo signatures 0x41615252 at 0, 0x61417272 at 484,
// 0xAA550000 at 508").
var ErrCorrupt = errors.New("fat32: corrupt FSInfo sector")

// Table owns the in-memory copy of the file allocation table plus the
// free-cluster hint, grounded on original_source's FileAllocTable.
type Table struct {
	dev      blockdev.Device
	fatStart uint32 // sector id where the FAT region begins
	dataStart uint32 // sector id where the data region begins
	sectorsPerCluster uint32
	dataClusters      uint32 // usable cluster count, excluding the 2 reserved ids

	mu        sync.Mutex
	entries   []uint32
	freeCount uint32
	nextFree  uint32
}

// LoadTable reads the FSInfo sector and the full FAT region off dev,
// following original_source's FileAllocTable::new.
func LoadTable(dev blockdev.Device, b *BPB) (*Table, error) {
	info := make([]byte, blockdev.SectorSize)
	if err := blockdev.ReadSector(dev, int(b.InfoSector), info); err != nil {
		return nil, err
	}
	freeCount, nextFree, err := parseFSInfo(info)
	if err != nil {
		return nil, err
	}

	fatStart := uint32(b.ReservedSectors)
	entries := make([]uint32, 0, int(b.FAT32Length)*blockdev.SectorSize/4)
	buf := make([]byte, blockdev.SectorSize)
	for s := fatStart; s < fatStart+b.FAT32Length; s++ {
		if err := blockdev.ReadSector(dev, int(s), buf); err != nil {
			return nil, err
		}
		for off := 0; off+4 <= len(buf); off += 4 {
			entries = append(entries, binary.LittleEndian.Uint32(buf[off:off+4]))
		}
	}

	dataStart := fatStart + uint32(b.FATCount)*b.FAT32Length
	dataClusters := (b.TotalSectorCount - dataStart) / uint32(b.SectorsPerCluster)

	t := &Table{
		dev:               dev,
		fatStart:          fatStart,
		dataStart:         dataStart,
		sectorsPerCluster: uint32(b.SectorsPerCluster),
		dataClusters:      dataClusters,
		entries:           entries,
		freeCount:         freeCount,
		nextFree:          nextFree,
	}
	t.maintainAllocMeta()
	return t, nil
}

func parseFSInfo(sector []byte) (freeCount, nextFree uint32, err error) {
	if binary.LittleEndian.Uint32(sector[0:4]) != fsInfoLeadSig {
		return 0, 0, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(sector[484:488]) != fsInfoStrucSig {
		return 0, 0, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(sector[508:512]) != fsInfoTrailSig {
		return 0, 0, ErrCorrupt
	}
	freeCount = binary.LittleEndian.Uint32(sector[488:492])
	nextFree = binary.LittleEndian.Uint32(sector[492:496])
	return freeCount, nextFree, nil
}

// maintainAllocMeta rebuilds freeCount/nextFree by scanning the table
// when FSInfo reported the sentinel "unknown" value 0xFFFFFFFF, per
// original_source's FileAllocTable::maintain_alloc_meta.
func (t *Table) maintainAllocMeta() {
	const invalid = 0xFFFFFFFF
	if t.freeCount != invalid && t.nextFree != invalid {
		return
	}
	t.freeCount = 0
	t.nextFree = 0
	for i := reservedClusters; i < len(t.entries); i++ {
		if t.entries[i]&fatEntryMask == 0 {
			t.freeCount++
		} else {
			t.nextFree = uint32(i) + 1
		}
	}
}

// totalClusterIDs is the one-past-last valid cluster id (reserved ids
// 0 and 1 included in the count, per original_source).
func (t *Table) totalClusterIDs() uint32 { return t.dataClusters + reservedClusters }

// AllocCluster reserves one free cluster, scanning from the free-hint
// and wrapping around once, writing end-of-chain into the new cluster
// and linking it after prevCluster when prevCluster != 0 (spec §4.7:
// "alloc_cluster(prev?) scans from the hint, wraps around once, writes
// end-of-chain to the new cluster, and links prev if present").
func (t *Table) AllocCluster(prevCluster uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.totalClusterIDs()
	start := t.nextFree
	if start == 0 || start >= total {
		start = reservedClusters
	}

	find := func(from, to uint32) (uint32, bool) {
		for c := from; c < to; c++ {
			if t.entries[c]&fatEntryMask == 0 {
				return c, true
			}
		}
		return 0, false
	}

	cluster, ok := find(start, total)
	if !ok && start > reservedClusters {
		cluster, ok = find(reservedClusters, start)
	}
	if !ok {
		return 0, false
	}

	t.freeCount--
	t.nextFree = cluster + 1
	if prevCluster != 0 {
		t.entries[prevCluster] = cluster
	}
	t.entries[cluster] = endOfChain
	return cluster, true
}

// ClusterChain materializes the full chain of cluster ids starting at
// first, stopping at the first id >= 0x0FFFFFF8 (spec §6/§8: "cluster
// chain end markers >= 0x0FFFFFF8 ... no cluster appears twice"). A
// cycle (which would violate that invariant on a sound disk) is broken
// defensively rather than looped forever.
func (t *Table) ClusterChain(first uint32) []uint32 {
	if first < reservedClusters {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[uint32]bool)
	var chain []uint32
	cur := first
	for cur < endOfChainThreshold {
		if seen[cur] {
			break
		}
		seen[cur] = true
		chain = append(chain, cur)
		cur = t.entries[cur] & fatEntryMask
	}
	return chain
}

// ClusterSectors returns the [start, end) sector range backing one
// cluster in the data region.
func (t *Table) ClusterSectors(cluster uint32) (start, end uint32) {
	start = t.dataStart + (cluster-reservedClusters)*t.sectorsPerCluster
	return start, start + t.sectorsPerCluster
}

// SectorsPerCluster reports the cluster size in sectors.
func (t *Table) SectorsPerCluster() uint32 { return t.sectorsPerCluster }

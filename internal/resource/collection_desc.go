package resource

import (
	"fmt"
	"io"
	"math"

	"github.com/l1jgo/worldcore/internal/stream"
)

const (
	collectionIdentifier = 0xC0

	CollectionVersion1       = 1 // uint16 count, no file sizes
	CollectionVersion2       = 2 // uint32 count, no file sizes
	CollectionVersion3       = 3 // uint32 count, uint64 file sizes
	CollectionVersionCurrent = CollectionVersion3
)

// CollectionEntry names one resource of a collection. FileSize weights the
// entry in loading progress; 0 means unknown and weighs as 1.
type CollectionEntry struct {
	AssetTypeName string
	NiceName      string
	ResourceID    string
	FileSize      uint64
}

// CollectionDescriptor is the persisted payload of a Collection.
type CollectionDescriptor struct {
	Entries []CollectionEntry
}

// Save writes d as
//
//	[u8 version][u8 0xC0][count]{type, name, id, [size]}
//
// with strings as a u32 length plus bytes. Version 1 stores the count as
// u16; versions below 3 drop file sizes.
func (d *CollectionDescriptor) Save(w io.Writer, version uint8) error {
	if version < CollectionVersion1 || version > CollectionVersionCurrent {
		return fmt.Errorf("save collection: version %d: %w", version, ErrBadCollection)
	}
	sw := stream.NewWriter(w)
	sw.WriteU8(version)
	sw.WriteU8(collectionIdentifier)
	if version == CollectionVersion1 {
		if len(d.Entries) > math.MaxUint16 {
			return fmt.Errorf("save collection: %d entries exceed version 1: %w", len(d.Entries), ErrBadCollection)
		}
		sw.WriteU16(uint16(len(d.Entries)))
	} else {
		sw.WriteU32(uint32(len(d.Entries)))
	}
	for _, e := range d.Entries {
		sw.WriteString(e.AssetTypeName)
		sw.WriteString(e.NiceName)
		sw.WriteString(e.ResourceID)
		if version >= CollectionVersion3 {
			sw.WriteU64(e.FileSize)
		}
	}
	if err := sw.Err(); err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}

// Load replaces d's entries with the collection read from r.
func (d *CollectionDescriptor) Load(r io.Reader) error {
	sr := stream.NewReader(r)
	version := sr.ReadU8()
	ident := sr.ReadU8()
	if err := sr.Err(); err != nil {
		return fmt.Errorf("load collection header: %w", err)
	}
	if version < CollectionVersion1 || version > CollectionVersionCurrent {
		return fmt.Errorf("load collection: version %d: %w", version, ErrBadCollection)
	}
	if ident != collectionIdentifier {
		return fmt.Errorf("load collection: identifier %#x: %w", ident, ErrBadCollection)
	}

	var count uint32
	if version == CollectionVersion1 {
		count = uint32(sr.ReadU16())
	} else {
		count = sr.ReadU32()
	}
	entries := make([]CollectionEntry, 0, min(count, 4096))
	for i := uint32(0); i < count && sr.Err() == nil; i++ {
		e := CollectionEntry{
			AssetTypeName: sr.ReadString(),
			NiceName:      sr.ReadString(),
			ResourceID:    sr.ReadString(),
		}
		if version >= CollectionVersion3 {
			e.FileSize = sr.ReadU64()
		}
		entries = append(entries, e)
	}
	if err := sr.Err(); err != nil {
		return fmt.Errorf("load collection entries: %w", err)
	}
	d.Entries = entries
	return nil
}

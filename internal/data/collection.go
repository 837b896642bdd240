package data

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/worldcore/internal/resource"
)

// ManifestEntry is one line of a collection manifest.
type ManifestEntry struct {
	Type string  `yaml:"type"`
	Name string  `yaml:"name,omitempty"`
	ID   string  `yaml:"id"`
	Size *uint64 `yaml:"size,omitempty"` // nil = take the file size under root
}

// LoadCollectionManifest reads a YAML list of collection entries. When an
// entry has no size and root is set, the size of root/id on disk is used;
// files that do not exist get size 0.
func LoadCollectionManifest(path, root string) (*resource.CollectionDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collection manifest: %w", err)
	}
	var entries []ManifestEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse collection manifest: %w", err)
	}

	desc := &resource.CollectionDescriptor{
		Entries: make([]resource.CollectionEntry, 0, len(entries)),
	}
	for i, e := range entries {
		if e.Type == "" || e.ID == "" {
			return nil, fmt.Errorf("collection manifest %s: entry %d: type and id are required", path, i)
		}
		ce := resource.CollectionEntry{
			AssetTypeName: e.Type,
			NiceName:      e.Name,
			ResourceID:    e.ID,
		}
		switch {
		case e.Size != nil:
			ce.FileSize = *e.Size
		case root != "":
			size, err := fileSize(filepath.Join(root, filepath.FromSlash(e.ID)))
			if err != nil {
				return nil, fmt.Errorf("collection manifest %s: entry %d: %w", path, i, err)
			}
			ce.FileSize = size
		}
		desc.Entries = append(desc.Entries, ce)
	}
	return desc, nil
}

func fileSize(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

// MarshalCollectionManifest renders desc in the manifest format, sizes
// included.
func MarshalCollectionManifest(desc *resource.CollectionDescriptor) ([]byte, error) {
	entries := make([]ManifestEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		size := e.FileSize
		entries[i] = ManifestEntry{
			Type: e.AssetTypeName,
			Name: e.NiceName,
			ID:   e.ResourceID,
			Size: &size,
		}
	}
	return yaml.Marshal(entries)
}

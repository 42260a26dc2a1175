package collector

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// Snapshot is an exported registry subtree that can be replayed on any OS.
//
//	root: SYSTEM\CurrentControlSet\Enum\USBSTOR
//	tree:
//	  subkeys:
//	    Disk&Ven_SanDisk&Prod_Ultra&Rev_1.00:
//	      subkeys:
//	        4C530001:
//	          values:
//	            FriendlyName: SanDisk Ultra USB Device
type Snapshot struct {
	Root string     `yaml:"root"`
	Tree *MemoryKey `yaml:"tree"`
}

// LoadSnapshot reads a YAML snapshot file into a hive rooted like HKLM
func LoadSnapshot(path string) (*MemoryHive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes snapshot YAML
func ParseSnapshot(data []byte) (*MemoryHive, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	parts := splitPath(snap.Root)
	if len(parts) == 0 {
		return nil, fmt.Errorf("parse snapshot: missing root")
	}

	hive := NewMemoryHive()
	// An absent tree leaves the root missing, like a host that never saw a USB disk
	if snap.Tree == nil {
		return hive, nil
	}
	parent := hive.Put(parentPath(snap.Root), nil)
	if parent.SubKeys == nil {
		parent.SubKeys = make(map[string]*MemoryKey)
	}
	parent.SubKeys[parts[len(parts)-1]] = snap.Tree
	return hive, nil
}

// WriteSnapshot exports the subtree at root of hive to path
func WriteSnapshot(hive Hive, root, path string) error {
	key, err := hive.OpenKey(root)
	if err != nil {
		return fmt.Errorf("open %s: %w", root, err)
	}
	defer key.Close()

	tree, err := copyKey(key)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(Snapshot{Root: root, Tree: tree})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Values carried into exported snapshots
var snapshotValues = []string{
	types.ValueFriendlyName,
	types.ValueDeviceID,
	types.ValueManufacturer,
	types.ValueFirstInstallDate,
	"Mfg",
	"DeviceDesc",
	"ContainerID",
}

func copyKey(k Key) (*MemoryKey, error) {
	out := &MemoryKey{}
	for _, name := range snapshotValues {
		if v, err := k.GetStringValue(name); err == nil {
			if out.Values == nil {
				out.Values = make(map[string]string)
			}
			out.Values[name] = v
		}
	}

	names, err := k.ReadSubKeyNames()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		sub, err := k.OpenSubKey(name)
		if err != nil {
			continue
		}
		child, err := copyKey(sub)
		sub.Close()
		if err != nil {
			return nil, err
		}
		if out.SubKeys == nil {
			out.SubKeys = make(map[string]*MemoryKey)
		}
		out.SubKeys[name] = child
	}
	return out, nil
}

func parentPath(path string) string {
	parts := splitPath(path)
	if len(parts) <= 1 {
		return ""
	}
	joined := parts[0]
	for _, p := range parts[1 : len(parts)-1] {
		joined += `\` + p
	}
	return joined
}

//go:build windows

package collector

import (
	"errors"

	"golang.org/x/sys/windows/registry"
)

type liveHive struct {
	root registry.Key
}

// NewLiveHive returns the HKEY_LOCAL_MACHINE hive of this host
func NewLiveHive() (Hive, error) {
	return &liveHive{root: registry.LOCAL_MACHINE}, nil
}

func (h *liveHive) OpenKey(path string) (Key, error) {
	k, err := registry.OpenKey(h.root, path, registry.READ)
	if err != nil {
		return nil, translateErr(err)
	}
	return &liveKey{key: k}, nil
}

type liveKey struct {
	key registry.Key
}

func (k *liveKey) ReadSubKeyNames() ([]string, error) {
	return k.key.ReadSubKeyNames(-1)
}

func (k *liveKey) GetStringValue(name string) (string, error) {
	val, _, err := k.key.GetStringValue(name)
	if err != nil {
		return "", translateErr(err)
	}
	return val, nil
}

func (k *liveKey) OpenSubKey(name string) (Key, error) {
	sub, err := registry.OpenKey(k.key, name, registry.READ)
	if err != nil {
		return nil, translateErr(err)
	}
	return &liveKey{key: sub}, nil
}

func (k *liveKey) Close() error {
	return k.key.Close()
}

func translateErr(err error) error {
	if errors.Is(err, registry.ErrNotExist) {
		return ErrKeyNotFound
	}
	return err
}

//go:build !windows

package collector

// NewLiveHive fails outside Windows; use a snapshot instead
func NewLiveHive() (Hive, error) {
	return nil, ErrUnsupportedOS
}

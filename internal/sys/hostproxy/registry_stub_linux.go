//go:build linux

package hostproxy

// NewRegistry 在非 Windows 平台上不可用
func NewRegistry() (Host, error) {
	return nil, ErrUnsupported
}

//go:build !linux && !windows

package hostproxy

func NewGSettings() (Host, error) {
	return nil, ErrUnsupported
}

func NewRegistry() (Host, error) {
	return nil, ErrUnsupported
}

func newPlatformDefault() (Host, error) {
	return nil, ErrUnsupported
}

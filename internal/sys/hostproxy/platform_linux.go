//go:build linux

package hostproxy

// NewGSettings returns the GNOME backend.
func NewGSettings() (Host, error) {
	if !gsettingsUsable() {
		return nil, ErrUnsupported
	}
	return newGSettings(execGSettings), nil
}

func newPlatformDefault() (Host, error) {
	return NewGSettings()
}

//go:build !linux

package gpio

import "errors"

// CdevBackend is not available on non-Linux platforms.
type CdevBackend struct{}

// NewCdevBackend returns an error on non-Linux platforms.
func NewCdevBackend(chipName string) (*CdevBackend, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Request is not implemented on non-Linux platforms.
func (b *CdevBackend) Request(offset int, mode Mode, bias Bias) (Handle, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *CdevBackend) Close() error {
	return nil
}

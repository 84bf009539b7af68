//go:build !linux && !darwin

package eventloop

// NewPollSelector returns ErrUnsupportedPlatform, supply a Selector via
// WithSelector instead.
func NewPollSelector() (Selector, error) {
	return nil, ErrUnsupportedPlatform
}

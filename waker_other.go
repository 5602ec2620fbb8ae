//go:build !linux

package asyncfio

func newEventfdWaker() (Waker, error) {
	return nil, ErrUnsupported
}

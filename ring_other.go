//go:build !linux

package asyncfio

func newNativeRing(entries uint32, flags uint32) (Ring, error) {
	return nil, ErrUnsupported
}

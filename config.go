package asyncfio

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joeycumines/go-asyncfio/internal/uring"
)

const (
	// EnvRingEntries names the environment variable holding the default
	// ring size.
	EnvRingEntries = "ASYNCFIO_RING_ENTRIES"

	// DefaultRingEntries is used when neither WithEntries nor
	// ASYNCFIO_RING_ENTRIES is set.
	DefaultRingEntries = 4096

	maxRingEntries = uring.MaxEntries
)

func ringEntriesFromEnv() (uint32, error) {
	s, ok := os.LookupEnv(EnvRingEntries)
	if !ok || strings.TrimSpace(s) == "" {
		return DefaultRingEntries, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || v == 0 || v > maxRingEntries {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidEntries, EnvRingEntries, s)
	}
	return uint32(v), nil
}

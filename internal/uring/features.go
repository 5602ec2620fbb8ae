package uring

import (
	"errors"
	"fmt"
)

// ErrMissingFeature is returned by New when the kernel lacks a feature the
// ring depends on.
var ErrMissingFeature = errors.New("uring: kernel lacks a required feature")

// requiredFeatures must all be reported by io_uring_setup. Without
// FeatNoDrop, completions beyond the CQ size are lost once the queue
// overflows, leaving their operations unresolved.
const requiredFeatures = FeatNoDrop

func checkFeatures(features uint32) error {
	if missing := requiredFeatures &^ features; missing != 0 {
		return fmt.Errorf("%w: features %#x, missing %#x", ErrMissingFeature, features, missing)
	}
	return nil
}

package uring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckFeatures(t *testing.T) {
	assert.NoError(t, checkFeatures(FeatNoDrop))
	assert.NoError(t, checkFeatures(FeatSingleMmap|FeatNoDrop|FeatRWCurPos))

	err := checkFeatures(FeatSingleMmap | FeatRWCurPos)
	assert.ErrorIs(t, err, ErrMissingFeature)
	assert.Contains(t, err.Error(), "missing 0x2")
}

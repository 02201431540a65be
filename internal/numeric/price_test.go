package numeric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceValidation(t *testing.T) {
	_, err := NewPrice(100000.0)
	require.NoError(t, err)

	_, err = NewPrice(1.5)
	require.NoError(t, err)

	_, err = NewPrice(0.7)
	assert.Error(t, err, "expected tick-alignment error")

	_, err = NewPrice(0)
	assert.Error(t, err, "expected below-minimum error")

	_, err = NewPrice(200_000_000)
	assert.Error(t, err, "expected above-maximum error")
}

func TestBoundedPriceClamps(t *testing.T) {
	assert.Equal(t, PriceMin, BoundedPrice(-1).Float64())
	assert.Equal(t, PriceMax, BoundedPrice(1e9).Float64())
}

func TestRoundPriceIdempotent(t *testing.T) {
	once := RoundPrice(100000.3)
	twice := RoundPrice(once.Float64())
	assert.Equal(t, once.Float64(), twice.Float64())
}

func TestQuantityBoundaryBehavior(t *testing.T) {
	assert.Equal(t, uint64(QuantityMin), BoundedQuantity(-1.0).Uint64())
	assert.Equal(t, uint64(QuantityMax), BoundedQuantity(1e9).Uint64())
}

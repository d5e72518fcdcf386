package geocode

import (
	"context"
	"testing"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	forward  int
	backward int
	err      error
}

func (r *countingResolver) AddressToCoordinate(_ context.Context, _ string) (geo.Coordinate, error) {
	r.forward++
	if r.err != nil {
		return geo.Coordinate{}, r.err
	}
	return geo.Coordinate{Lat: 1, Lng: 2}, nil
}

func (r *countingResolver) CoordinateToAddress(_ context.Context, _ geo.Coordinate) (Address, error) {
	r.backward++
	if r.err != nil {
		return Address{}, r.err
	}
	return Address{City: "Lyon"}, nil
}

func TestCachedResolverMemoizesSuccess(t *testing.T) {
	next := &countingResolver{}
	cache := NewCachedResolver(next, 8, time.Minute)
	ctx := context.Background()

	for _, address := range []string{"Main Street 1", "main   street 1", "MAIN STREET 1"} {
		coord, err := cache.AddressToCoordinate(ctx, address)
		require.NoError(t, err)
		assert.Equal(t, geo.Coordinate{Lat: 1, Lng: 2}, coord)
	}
	assert.Equal(t, 1, next.forward)

	for _, c := range []geo.Coordinate{{Lat: 45.764043, Lng: 4.835659}, {Lat: 45.7640431, Lng: 4.8356589}} {
		address, err := cache.CoordinateToAddress(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, "Lyon", address.City)
	}
	assert.Equal(t, 1, next.backward)

	cache.Purge()
	_, _ = cache.AddressToCoordinate(ctx, "Main Street 1")
	assert.Equal(t, 2, next.forward)
}

func TestCachedResolverDoesNotCacheFailures(t *testing.T) {
	next := &countingResolver{err: newError("address to coordinate", ErrNetwork, nil)}
	cache := NewCachedResolver(next, 8, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cache.AddressToCoordinate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNetwork)
	}
	assert.Equal(t, 2, next.forward)
}

package geocode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/bizfolio/internal/geo"
)

// CachedResolver memoizes successful lookups of another Resolver for ttl.
// Failures are never cached.
type CachedResolver struct {
	next     Resolver
	forward  *expirable.LRU[string, geo.Coordinate]
	backward *expirable.LRU[string, Address]
}

func NewCachedResolver(next Resolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 256
	}
	return &CachedResolver{
		next:     next,
		forward:  expirable.NewLRU[string, geo.Coordinate](size, nil, ttl),
		backward: expirable.NewLRU[string, Address](size, nil, ttl),
	}
}

func addressKey(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// coordinateKey rounds to five decimals, about one meter.
func coordinateKey(c geo.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

func (c *CachedResolver) AddressToCoordinate(ctx context.Context, address string) (geo.Coordinate, error) {
	key := addressKey(address)
	if coord, ok := c.forward.Get(key); ok {
		return coord, nil
	}
	coord, err := c.next.AddressToCoordinate(ctx, address)
	if err != nil {
		return geo.Coordinate{}, err
	}
	c.forward.Add(key, coord)
	return coord, nil
}

func (c *CachedResolver) CoordinateToAddress(ctx context.Context, coord geo.Coordinate) (Address, error) {
	key := coordinateKey(coord)
	if address, ok := c.backward.Get(key); ok {
		return address, nil
	}
	address, err := c.next.CoordinateToAddress(ctx, coord)
	if err != nil {
		return Address{}, err
	}
	c.backward.Add(key, address)
	return address, nil
}

// Purge drops every cached entry.
func (c *CachedResolver) Purge() {
	c.forward.Purge()
	c.backward.Purge()
}

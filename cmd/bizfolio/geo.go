package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/bizfolio/internal/geo"
	"github.com/life-stream-dev/bizfolio/internal/geocode"
	"github.com/life-stream-dev/bizfolio/internal/utils"
)

func (a *app) newGeocoder() geocode.Resolver {
	gateway := geocode.NewGateway(a.cfg.Geocoding)
	ttl := utils.ParseStringTimeOr(a.cfg.Geocoding.CacheTTL, 0)
	if a.cfg.Geocoding.CacheSize <= 0 || ttl <= 0 {
		return gateway
	}
	return geocode.NewCachedResolver(gateway, a.cfg.Geocoding.CacheSize, ttl)
}

func parseCoordinate(lat, lng string) (geo.Coordinate, error) {
	latValue, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("latitude %q: %w", lat, err)
	}
	lngValue, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("longitude %q: %w", lng, err)
	}
	coord := geo.Coordinate{Lat: latValue, Lng: lngValue}
	return coord, coord.Validate()
}

func newGeocodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "geocode <address>...",
		Short:       "Resolve addresses to coordinates",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{optionalConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := a.newGeocoder()
			var failed error
			for _, address := range args {
				coord, err := resolver.AddressToCoordinate(cmd.Context(), address)
				if err != nil {
					failed = errors.Join(failed, err)
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", address, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", coord, address)
			}
			return failed
		},
	}
}

func newReverseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "reverse <lat> <lng>",
		Short:       "Resolve a coordinate to a structured address",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{optionalConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := parseCoordinate(args[0], args[1])
			if err != nil {
				return err
			}
			address, err := a.newGeocoder().CoordinateToAddress(cmd.Context(), coord)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\ncountry code: %s\n", address.Line(), address.CountryCode)
			return nil
		},
	}
}

func newDistanceCmd(a *app) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:         "distance [<lat1> <lng1> <lat2> <lng2>]",
		Short:       "Great-circle distance between two coordinates or addresses",
		Annotations: map[string]string{optionalConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var a1, a2 *geo.Coordinate
			switch {
			case len(args) == 4:
				c1, err := parseCoordinate(args[0], args[1])
				if err != nil {
					return err
				}
				c2, err := parseCoordinate(args[2], args[3])
				if err != nil {
					return err
				}
				a1, a2 = &c1, &c2
			case from != "" && to != "":
				resolver := a.newGeocoder()
				// an unresolved side leaves the distance undefined
				if c, err := resolver.AddressToCoordinate(cmd.Context(), from); err == nil {
					a1 = &c
				} else {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", from, err)
				}
				if c, err := resolver.AddressToCoordinate(cmd.Context(), to); err == nil {
					a2 = &c
				} else {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", to, err)
				}
			default:
				return errors.New("pass four coordinates or --from and --to")
			}

			km, ok := geo.DistanceBetween(a1, a2)
			if !ok {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "distance unavailable")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), geo.FormatDistance(km))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "origin address")
	cmd.Flags().StringVar(&to, "to", "", "destination address")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/bizfolio/internal/counter"
	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/qr"
	"github.com/life-stream-dev/bizfolio/internal/subscription"
)

func newCountCmd(a *app) *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "count <business-id> <views|clicks|scans|conversations>",
		Short: "Increment a usage counter of a business",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := counter.ParseMetric(args[1])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context(), memory)
			if err != nil {
				return err
			}

			businessID := args[0]
			err = counter.NewAccumulator(store).Increment(cmd.Context(), businessID, metric)
			if err != nil && !errors.Is(err, counter.ErrRaceLoss) {
				return err
			}

			doc, err := store.Get(cmd.Context(), database.CounterCollectionName, businessID)
			if err != nil {
				return err
			}
			record, _, err := counter.Decode(subscription.FromDocuments(subscription.KeyCounters, businessID, doc))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s=%d\n", businessID, metric, record.Get(metric))
			return nil
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "use the in-process store instead of MongoDB")
	return cmd
}

func newQRCmd(a *app) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:         "qr <business-id> <out.png>",
		Short:       "Fetch the QR code image of a business profile link",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{optionalConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			link := qr.ProfileURL(a.cfg.QR.PublicBaseURL, args[0])
			image, err := qr.NewRenderer(a.cfg.QR, nil).Render(cmd.Context(), link, size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], image, 0644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes) for %s\n", args[1], len(image), link)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "image size in pixels, defaults to the configured size")
	return cmd
}

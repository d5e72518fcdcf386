package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/life-stream-dev/bizfolio/internal/dispatch"
	"github.com/life-stream-dev/bizfolio/internal/utils"
)

// consolePlatform prints invocations instead of handing them to an OS. With
// handled set it reports focus lost, as if an application claimed the URI.
type consolePlatform struct {
	mu      sync.Mutex
	out     io.Writer
	handled bool
}

func (p *consolePlatform) Launch(uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = color.New(color.FgGreen).Fprintf(p.out, "launch %s\n", uri)
	return nil
}

func (p *consolePlatform) OpenNewContext(uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = color.New(color.FgYellow).Fprintf(p.out, "open   %s\n", uri)
	return nil
}

func (p *consolePlatform) Foreground() bool {
	return !p.handled
}

func (a *app) newResolver(out io.Writer, handled bool) *dispatch.Resolver {
	timeout := utils.ParseStringTimeOr(a.cfg.Dispatch.FallbackTimeout, dispatch.DefaultFallbackTimeout)
	return dispatch.NewResolver(&consolePlatform{out: out, handled: handled}, dispatch.WithFallbackTimeout(timeout))
}

func printOutcome(cmd *cobra.Command, d *dispatch.Dispatch) error {
	outcome, err := d.Wait(cmd.Context())
	if err != nil {
		return err
	}
	status := "dispatched"
	if !outcome.Dispatched() {
		status = "nothing dispatched"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: state=%s invoked=%d/%d exhausted=%t\n",
		status, outcome.State, len(outcome.Invoked), len(outcome.Candidates), outcome.Exhausted)
	return nil
}

func newDirectionsCmd(a *app) *cobra.Command {
	var platform, userAgent, mode string
	var handled bool

	cmd := &cobra.Command{
		Use:         "directions <address>",
		Short:       "Open directions to an address with platform fallback",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{optionalConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			travelMode, err := dispatch.ParseTravelMode(mode)
			if err != nil {
				return err
			}
			class := dispatch.ParsePlatformClass(platform)
			if userAgent != "" {
				class = dispatch.DetectPlatform(userAgent)
			}

			d, err := a.newResolver(cmd.OutOrStdout(), handled).Resolve(dispatch.Request{
				Address:  args[0],
				Mode:     travelMode,
				Platform: class,
			})
			if err != nil {
				return err
			}
			return printOutcome(cmd, d)
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "other", "platform class: apple|android|other")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "detect the platform class from a user agent")
	cmd.Flags().StringVar(&mode, "mode", "drive", "travel mode: drive|transit|walk|bike")
	cmd.Flags().BoolVar(&handled, "handled", false, "pretend an application took focus")
	return cmd
}

func newContactCmd(a *app) *cobra.Command {
	var channel string
	var handled bool

	cmd := &cobra.Command{
		Use:         "contact <value>",
		Short:       "Contact a business by phone, sms, whatsapp or email",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{optionalConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.newResolver(cmd.OutOrStdout(), handled).ResolveContact(dispatch.Channel(channel), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd, d)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "phone", "phone|sms|whatsapp|email")
	cmd.Flags().BoolVar(&handled, "handled", false, "pretend an application took focus")
	return cmd
}

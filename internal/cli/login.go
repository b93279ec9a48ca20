package cli

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/linkstash/linkstash/internal/api"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with GitHub",
	Long: `Sign in with GitHub and make sure the links repository exists.

By default the browser flow is used: a local server receives the OAuth
redirect on the configured host and port. With --device, or when only a
device-flow client id is configured, a short code is shown instead and
entered at github.com/login/device.

Example:
  linkstash login
  linkstash login --device`,
	RunE: runLogin,
}

var loginFlags struct {
	Device    bool
	NoBrowser bool
}

func init() {
	loginCmd.Flags().BoolVar(&loginFlags.Device, "device", false, "Use the device-code flow")
	loginCmd.Flags().BoolVar(&loginFlags.NoBrowser, "no-browser", false, "Print the authorization URL without opening a browser")
}

func runLogin(cmd *cobra.Command, args []string) error {
	prompt := promptWriter(cmd)
	open := func(authURL string) error {
		fmt.Fprintf(prompt, "Open this URL to authorize LinkStash:\n  %s\n", authURL)
		if loginFlags.NoBrowser {
			return nil
		}
		return browserOpener(authURL)
	}

	a, err := newApp(cmd, appOptions{open: open})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := api.SignalContext(cmd.Context())
	defer cancel()

	if loginFlags.Device || a.web == nil {
		err = loginDevice(ctx, a, prompt)
	} else {
		err = loginWeb(ctx, a)
	}
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	return printStatus(ctx, cmd.OutOrStdout(), a)
}

// loginWeb serves the OAuth callback for the duration of the flow.
func loginWeb(ctx context.Context, a *app) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("cannot listen for the OAuth redirect on %s: %w", a.cfg.Server.Addr(), err)
	}

	srv := api.NewServer(a.cfg.Server, a.router, a.broker,
		api.WithLogger(a.logger),
		api.WithMetrics(a.metrics),
		api.WithAudit(a.audit),
		api.WithVersion(Version),
	)
	srvCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(srvCtx, ln)
	}()

	_, err = a.dispatch(ctx, router.Request{Action: router.ActionStartAuth})

	stop()
	if serveErr := <-done; serveErr != nil {
		a.logger.Warn("callback server stopped with error", "error", serveErr)
	}
	return err
}

func loginDevice(ctx context.Context, a *app, prompt io.Writer) error {
	resp, err := a.dispatch(ctx, router.Request{Action: router.ActionStartDeviceAuth})
	if err != nil {
		return err
	}
	d := resp.Device
	fmt.Fprintf(prompt, "Open %s and enter the code: %s\n", d.VerificationURL, d.UserCode)
	if d.ExpiresAt != nil {
		fmt.Fprintf(prompt, "The code expires at %s.\n", d.ExpiresAt.Local().Format("15:04:05"))
	}
	fmt.Fprintln(prompt, "Waiting for authorization...")

	_, err = a.dispatch(ctx, router.Request{
		Action:     router.ActionPollDeviceAuth,
		DeviceCode: d.DeviceCode,
		Interval:   d.Interval,
	})
	return err
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token and settings",
	RunE:  runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.dispatch(cmd.Context(), router.Request{Action: router.ActionLogout}); err != nil {
		return err
	}
	if globalFlags.JSON {
		return writeJSON(cmd.OutOrStdout(), map[string]bool{"authenticated": false})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

// promptWriter keeps interactive text out of JSON output.
func promptWriter(cmd *cobra.Command) io.Writer {
	if globalFlags.JSON {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/linkstash/linkstash/internal/api"
	"github.com/linkstash/linkstash/internal/health"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/spf13/cobra"
)

const serverStatusTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in state and the target repository",
	Long: `Show whether the stored token is still accepted by GitHub, which
repository links are written to, when the last save happened and how much
of the GitHub rate limit is left.

Example:
  linkstash status
  linkstash status --json
  linkstash status --server http://127.0.0.1:8765`,
	RunE: runStatus,
}

var statusFlags struct {
	Server string
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.Server, "server", os.Getenv("LINKSTASH_SERVER"), "Ask a running `linkstash serve` at this URL instead of the local database")
}

// StatusInfo is the output of the status command.
type StatusInfo struct {
	Authenticated bool           `json:"authenticated"`
	Repository    string         `json:"repository,omitempty"`
	FilePath      string         `json:"file_path"`
	LastSyncTime  *time.Time     `json:"last_sync_time,omitempty"`
	RateLimit     *RateLimitInfo `json:"rate_limit,omitempty"`
}

// RateLimitInfo is the GitHub budget seen on the last API response.
type RateLimitInfo struct {
	Resource  string    `json:"resource"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Reset     time.Time `json:"reset,omitempty"`
}

// ServerStatusInfo is the output of status --server.
type ServerStatusInfo struct {
	Server        string              `json:"server"`
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	GitHub        *health.CheckResult `json:"github,omitempty"`
	Authenticated bool                `json:"authenticated"`
	Repository    string              `json:"repository,omitempty"`
	FilePath      string              `json:"file_path,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFlags.Server != "" {
		return printServerStatus(cmd.Context(), cmd.OutOrStdout(), statusFlags.Server)
	}
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	return printStatus(cmd.Context(), cmd.OutOrStdout(), a)
}

func collectStatus(ctx context.Context, a *app) (StatusInfo, error) {
	auth, err := a.dispatch(ctx, router.Request{Action: router.ActionCheckAuth})
	if err != nil {
		return StatusInfo{}, err
	}
	settings, err := a.dispatch(ctx, router.Request{Action: router.ActionGetSettings})
	if err != nil {
		return StatusInfo{}, err
	}

	info := StatusInfo{
		Authenticated: auth.IsAuthenticated != nil && *auth.IsAuthenticated,
		Repository:    settings.Settings.RepoName,
		FilePath:      settings.Settings.FilePath,
	}
	if ms := settings.Settings.LastSyncTime; ms > 0 {
		t := time.UnixMilli(ms)
		info.LastSyncTime = &t
	}
	if info.Authenticated {
		if target, err := a.syncer.ResolveRepositoryTarget(ctx); err == nil {
			info.Repository = target.String()
		} else {
			a.logger.Debug("could not resolve repository owner", "error", err)
		}
	}
	if rl, ok := a.github.RateLimit(); ok {
		info.RateLimit = &RateLimitInfo{
			Resource:  rl.Resource,
			Limit:     rl.Limit,
			Remaining: rl.Remaining,
			Reset:     rl.Reset,
		}
	}
	return info, nil
}

func printStatus(ctx context.Context, w io.Writer, a *app) error {
	info, err := collectStatus(ctx, a)
	if err != nil {
		return err
	}
	if globalFlags.JSON {
		return writeJSON(w, info)
	}

	if info.Authenticated {
		fmt.Fprintln(w, "Signed in:    yes")
	} else {
		fmt.Fprintln(w, "Signed in:    no (run `linkstash login`)")
	}
	fmt.Fprintf(w, "Repository:   %s\n", info.Repository)
	fmt.Fprintf(w, "File:         %s\n", info.FilePath)
	if info.LastSyncTime != nil {
		fmt.Fprintf(w, "Last save:    %s\n", info.LastSyncTime.Local().Format(time.RFC3339))
	}
	if rl := info.RateLimit; rl != nil {
		fmt.Fprintf(w, "Rate limit:   %d/%d %s requests left", rl.Remaining, rl.Limit, rl.Resource)
		if !rl.Reset.IsZero() {
			fmt.Fprintf(w, ", resets %s", rl.Reset.Local().Format("15:04:05"))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func collectServerStatus(ctx context.Context, client *api.Client, server string) (ServerStatusInfo, error) {
	h, err := client.Health(ctx)
	if err != nil {
		return ServerStatusInfo{}, err
	}
	info := ServerStatusInfo{
		Server:  server,
		Status:  h.Status,
		Version: h.Version,
		GitHub:  h.GitHub,
	}

	auth, err := client.Dispatch(ctx, router.Request{Action: router.ActionCheckAuth})
	if err == nil && !auth.Success {
		err = fmt.Errorf("%s", auth.Error)
	}
	if err != nil {
		return info, err
	}
	info.Authenticated = auth.IsAuthenticated != nil && *auth.IsAuthenticated
	settings, err := client.Dispatch(ctx, router.Request{Action: router.ActionGetSettings})
	if err == nil && !settings.Success {
		err = fmt.Errorf("%s", settings.Error)
	}
	if err != nil {
		return info, err
	}
	if settings.Settings != nil {
		info.Repository = settings.Settings.RepoName
		info.FilePath = settings.Settings.FilePath
	}
	return info, nil
}

func printServerStatus(ctx context.Context, w io.Writer, server string) error {
	client := api.NewClient(server,
		api.WithAPIKey(os.Getenv("LINKSTASH_API_KEY")),
		api.WithTimeout(serverStatusTimeout),
	)
	defer client.Close()

	info, err := collectServerStatus(ctx, client, server)
	if err != nil {
		return err
	}
	if globalFlags.JSON {
		return writeJSON(w, info)
	}

	fmt.Fprintf(w, "Server:       %s (%s, version %s)\n", info.Server, info.Status, info.Version)
	if gh := info.GitHub; gh != nil {
		fmt.Fprintf(w, "GitHub API:   %s", gh.Status)
		if gh.Latency > 0 {
			fmt.Fprintf(w, " in %s", gh.Latency.Round(time.Millisecond))
		}
		if gh.Error != "" {
			fmt.Fprintf(w, " (%s)", gh.Error)
		}
		fmt.Fprintln(w)
	}
	if info.Authenticated {
		fmt.Fprintln(w, "Signed in:    yes")
	} else {
		fmt.Fprintln(w, "Signed in:    no")
	}
	fmt.Fprintf(w, "Repository:   %s\n", info.Repository)
	fmt.Fprintf(w, "File:         %s\n", info.FilePath)
	return nil
}

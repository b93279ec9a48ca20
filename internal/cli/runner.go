package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/linkstash/linkstash/internal/api"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/pageinfo"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/linkstash/linkstash/internal/transport"
	"github.com/spf13/cobra"
)

// actionRunner runs router actions in-process or through a running server.
type actionRunner interface {
	dispatch(ctx context.Context, req router.Request) (router.Response, error)
	fetcher() *pageinfo.Fetcher
	log() *logging.Logger
	Close() error
}

// openRunner builds the local app, or a client for server when it is set.
// The server's API key is read from LINKSTASH_API_KEY.
func openRunner(cmd *cobra.Command, server string) (actionRunner, error) {
	if server == "" {
		a, err := newApp(cmd, appOptions{})
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	logger := newLogger(cmd.ErrOrStderr(), "", false)
	logger.Debug("using action server", "url", server)
	return &remoteRunner{
		client: api.NewClient(server, api.WithAPIKey(os.Getenv("LINKSTASH_API_KEY"))),
		pages:  pageinfo.NewFetcher(transport.NewClient(transport.Options{UserAgent: "linkstash/" + Version})),
		logger: logger,
	}, nil
}

type remoteRunner struct {
	client *api.Client
	pages  *pageinfo.Fetcher
	logger *logging.Logger
}

func (r *remoteRunner) dispatch(ctx context.Context, req router.Request) (router.Response, error) {
	resp, err := r.client.Dispatch(ctx, req)
	if err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (r *remoteRunner) fetcher() *pageinfo.Fetcher { return r.pages }
func (r *remoteRunner) log() *logging.Logger       { return r.logger }
func (r *remoteRunner) Close() error               { return r.client.Close() }

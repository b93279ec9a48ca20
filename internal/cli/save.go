package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/models"
	"github.com/linkstash/linkstash/internal/pageinfo"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save URL",
	Short: "Save a link",
	Long: `Save a link to the links document in your repository.

Unless --no-fetch is given, the page is downloaded first and its title,
description and preview image fill in whatever the flags leave empty.

Example:
  linkstash save https://go.dev/blog --tags go,blog
  linkstash save https://example.com --title "Example" --no-fetch`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

var saveFlags struct {
	Title       string
	Description string
	Tags        string
	Type        string
	Image       string
	NoFetch     bool
	Server      string
}

func init() {
	saveCmd.Flags().StringVar(&saveFlags.Title, "title", "", "Link title")
	saveCmd.Flags().StringVar(&saveFlags.Description, "description", "", "Link description")
	saveCmd.Flags().StringVar(&saveFlags.Tags, "tags", "", "Comma separated tags")
	saveCmd.Flags().StringVar(&saveFlags.Type, "type", "", "Link type (default OTHER)")
	saveCmd.Flags().StringVar(&saveFlags.Image, "image", "", "Preview image URL")
	saveCmd.Flags().BoolVar(&saveFlags.NoFetch, "no-fetch", false, "Do not download the page for metadata")
	saveCmd.Flags().StringVar(&saveFlags.Server, "server", os.Getenv("LINKSTASH_SERVER"), "Send the link to a running `linkstash serve` at this URL")
	listCmd.Flags().StringVar(&listFlags.Server, "server", os.Getenv("LINKSTASH_SERVER"), "Read links through a running `linkstash serve` at this URL")
}

func runSave(cmd *cobra.Command, args []string) error {
	r, err := openRunner(cmd, saveFlags.Server)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	raw := models.RawLink{
		URL:             strings.TrimSpace(args[0]),
		Title:           saveFlags.Title,
		Description:     saveFlags.Description,
		PreviewImageURL: saveFlags.Image,
		Type:            saveFlags.Type,
		Tags:            models.ParseTags(saveFlags.Tags),
	}
	if !saveFlags.NoFetch {
		raw = enrich(ctx, r.fetcher(), r.log(), raw)
	}

	resp, err := r.dispatch(ctx, router.Request{Action: router.ActionSaveLink, Link: &raw})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		return writeJSON(out, resp.Link)
	}
	title := resp.Link.Title
	if title == "" {
		title = resp.Link.URL
	}
	fmt.Fprintf(out, "Saved %q (%s)\n", title, resp.Link.ID)
	return nil
}

// enrich fills empty fields from the page. Fetch failures only cost the metadata.
func enrich(ctx context.Context, pages *pageinfo.Fetcher, logger *logging.Logger, raw models.RawLink) models.RawLink {
	if raw.Title != "" && raw.Description != "" && raw.PreviewImageURL != "" {
		return raw
	}
	info, err := pages.Fetch(ctx, raw.URL)
	if err != nil {
		logger.Warn("page metadata unavailable", "url", raw.URL, "error", err)
		return raw
	}
	if raw.Title == "" {
		raw.Title = info.Title
	}
	if raw.Description == "" {
		raw.Description = info.Description
	}
	if raw.PreviewImageURL == "" {
		raw.PreviewImageURL = info.PreviewImageURL
	}
	if raw.Type == "" {
		raw.Type = info.Type
	}
	return raw
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved links",
	RunE:    runList,
}

var listFlags struct {
	Server string
}

func runList(cmd *cobra.Command, args []string) error {
	r, err := openRunner(cmd, listFlags.Server)
	if err != nil {
		return err
	}
	defer r.Close()

	resp, err := r.dispatch(cmd.Context(), router.Request{Action: router.ActionListLinks})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		links := resp.Links
		if links == nil {
			links = []models.LinkRecord{}
		}
		return writeJSON(out, links)
	}
	return outputLinksTable(out, resp.Links)
}

func outputLinksTable(out io.Writer, links []models.LinkRecord) error {
	if len(links) == 0 {
		fmt.Fprintln(out, "No links saved yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SAVED\tTITLE\tURL\tTAGS")
	for _, l := range links {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			time.UnixMilli(l.CreatedAt).Local().Format("2006-01-02"),
			truncate(l.Title, 48),
			l.URL,
			strings.Join(l.TagNames(), ","),
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

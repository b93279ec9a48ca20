package cli

import (
	"fmt"

	"github.com/linkstash/linkstash/internal/config"
	"github.com/linkstash/linkstash/internal/router"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configSetRepoCmd = &cobra.Command{
	Use:   "set-repo NAME",
	Short: "Write links to a different repository of the signed-in account",
	Long: `Change the repository links are saved to. NAME is a bare repository
name; the owner is always the signed-in account. The repository is created
on the next sign-in or save if it does not exist.

Example:
  linkstash config set-repo bookmarks`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetRepo,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetRepoCmd)
}

const maskedSecret = "********"

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	masked := maskSecrets(*cfg)

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		return writeJSON(out, masked)
	}
	data, err := yaml.Marshal(masked)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func maskSecrets(cfg config.Config) config.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return maskedSecret
	}
	cfg.GitHub.WebFlow.ClientSecret = mask(cfg.GitHub.WebFlow.ClientSecret)
	cfg.GitHub.DeviceFlow.ClientSecret = mask(cfg.GitHub.DeviceFlow.ClientSecret)
	cfg.Telegram.BotToken = mask(cfg.Telegram.BotToken)
	if len(cfg.Server.APIKeys) > 0 {
		keys := make([]string, len(cfg.Server.APIKeys))
		for i := range keys {
			keys[i] = maskedSecret
		}
		cfg.Server.APIKeys = keys
	}
	return cfg
}

func runConfigSetRepo(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.dispatch(cmd.Context(), router.Request{Action: router.ActionSetRepoName, RepoName: args[0]})
	if err != nil {
		return err
	}
	if globalFlags.JSON {
		return writeJSON(cmd.OutOrStdout(), resp.Settings)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Links will be saved to %s.\n", resp.Settings.RepoName)
	return nil
}

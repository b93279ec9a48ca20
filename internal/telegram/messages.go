package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/linkstash/linkstash/internal/models"
)

const (
	parseMode         = tgbotapi.ModeMarkdownV2
	maxDescriptionLen = 200
)

func escape(s string) string {
	return tgbotapi.EscapeText(parseMode, s)
}

func formatLinkSaved(rec models.LinkRecord, repo string) string {
	var b strings.Builder
	title := rec.Title
	if strings.TrimSpace(title) == "" {
		title = rec.URL
	}
	fmt.Fprintf(&b, "🔖 *%s*\n", escape(title))
	fmt.Fprintf(&b, "%s\n", escape(rec.URL))
	if desc := truncate(strings.TrimSpace(rec.Description), maxDescriptionLen); desc != "" {
		fmt.Fprintf(&b, "\n_%s_\n", escape(desc))
	}
	if names := rec.TagNames(); len(names) > 0 {
		tags := make([]string, len(names))
		for i, n := range names {
			tags[i] = escape("#" + strings.ReplaceAll(n, " ", "_"))
		}
		fmt.Fprintf(&b, "\n%s\n", strings.Join(tags, " "))
	}
	if repo != "" {
		fmt.Fprintf(&b, "\nSaved to `%s`", escape(repo))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSyncFailure(url string, err error) string {
	return fmt.Sprintf("⚠️ *Failed to save link*\n%s\n\n`%s`", escape(url), escape(err.Error()))
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

package knowledge

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/pkg/logger"
)

const defaultFeedItems = 20

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// FeedImporter turns RSS/Atom entries into knowledge items.
type FeedImporter struct {
	parser  *gofeed.Parser
	base    *Base
	timeout time.Duration
}

// NewFeedImporter creates an importer writing into base.
func NewFeedImporter(base *Base) *FeedImporter {
	return &FeedImporter{
		parser:  gofeed.NewParser(),
		base:    base,
		timeout: 30 * time.Second,
	}
}

// Import fetches one feed and upserts its newest entries. Entries keep a
// stable ID derived from their GUID so re-imports update in place.
func (f *FeedImporter) Import(ctx context.Context, feed config.FeedConfig) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return 0, fmt.Errorf("knowledge: fetch feed %s: %w", feed.URL, err)
	}
	return f.store(parsed, feed), nil
}

// ImportString parses a feed document already in memory.
func (f *FeedImporter) ImportString(doc string, feed config.FeedConfig) (int, error) {
	parsed, err := f.parser.ParseString(doc)
	if err != nil {
		return 0, fmt.Errorf("knowledge: parse feed: %w", err)
	}
	return f.store(parsed, feed), nil
}

// ImportAll imports every configured feed, logging failures.
func (f *FeedImporter) ImportAll(ctx context.Context, feeds []config.FeedConfig) int {
	total := 0
	for _, feed := range feeds {
		n, err := f.Import(ctx, feed)
		if err != nil {
			logger.Warn("knowledge feed import failed", "url", feed.URL, "error", err.Error())
			continue
		}
		logger.Info("knowledge feed imported", "url", feed.URL, "items", n)
		total += n
	}
	return total
}

// Run re-imports the feeds every interval until ctx is done.
func (f *FeedImporter) Run(ctx context.Context, feeds []config.FeedConfig, interval time.Duration) {
	if len(feeds) == 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.ImportAll(ctx, feeds)
		}
	}
}

func (f *FeedImporter) store(parsed *gofeed.Feed, feed config.FeedConfig) int {
	limit := feed.MaxItems
	if limit <= 0 {
		limit = defaultFeedItems
	}
	n := 0
	for _, entry := range parsed.Items {
		if n >= limit {
			break
		}
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if id == "" {
			continue
		}
		content := stripHTML(entry.Content)
		if content == "" {
			content = stripHTML(entry.Description)
		}
		f.base.Upsert(Item{
			ID:       "feed:" + id,
			Title:    strings.TrimSpace(entry.Title),
			Content:  content,
			Category: feed.Category,
			Keywords: entry.Categories,
			IsActive: true,
			Source:   feed.URL,
		})
		n++
	}
	return n
}

func stripHTML(input string) string {
	text := htmlTag.ReplaceAllString(input, "")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

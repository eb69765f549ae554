package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// feedEntry is one item of an RSS, Atom or JSON feed.
type feedEntry struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Published   time.Time
}

// parseFeed lets gofeed detect the format and flattens its items.
func parseFeed(data []byte) ([]feedEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: empty data")
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	entries := make([]feedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		guid := strings.TrimSpace(item.GUID)
		if guid == "" {
			guid = link
		}
		description := strings.TrimSpace(item.Description)
		if description == "" {
			description = strings.TrimSpace(item.Content)
		}
		entries = append(entries, feedEntry{
			GUID:        guid,
			Title:       strings.TrimSpace(item.Title),
			Link:        link,
			Description: description,
			Published:   itemTime(item),
		})
	}
	return entries, nil
}

// itemTime returns the zero time when the item carries no parseable date.
func itemTime(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}

package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

// DefaultFeedLimit is how many entries are taken from the top of each feed.
const DefaultFeedLimit = 5

const maxFeedBytes = 4 << 20

// Feed is one RSS or Atom feed.
type Feed struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Limit int    `yaml:"limit"`
}

// DefaultFeeds are used when no sources file is configured.
var DefaultFeeds = []Feed{
	{Name: "Reuters", URL: "https://www.reuters.com/rssFeed/businessNews"},
	{Name: "Yahoo Finance", URL: "https://finance.yahoo.com/news/rssindex"},
	{Name: "CNBC", URL: "https://www.cnbc.com/id/100003114/device/rss/rss.html"},
}

// RSS reads RSS 2.0, RSS 1.0 and Atom feeds.
type RSS struct {
	feed   Feed
	client *http.Client
}

// NewRSS creates a feed source. A nil client gets NewHTTPClient(DefaultTimeout).
func NewRSS(feed Feed, client *http.Client) *RSS {
	if feed.Limit <= 0 {
		feed.Limit = DefaultFeedLimit
	}
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &RSS{feed: feed, client: client}
}

// Name implements Source.
func (r *RSS) Name() string { return "rss:" + r.feed.Name }

// Fetch implements Source.
func (r *RSS) Fetch(ctx context.Context) ([]news.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	raws, err := ParseFeed(io.LimitReader(resp.Body, maxFeedBytes), r.feed.Name)
	if err != nil {
		return nil, err
	}
	return limit(raws, r.feed.Limit), nil
}

type feedDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Items   []rssItem   `xml:"item"`  // RSS 1.0 keeps items beside the channel
	Entries []atomEntry `xml:"entry"` // Atom
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// ParseFeed decodes an RSS or Atom document into raw articles in feed order.
func ParseFeed(r io.Reader, origin string) ([]news.Raw, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var doc feedDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := slices.Concat(doc.Channel.Items, doc.Items)
	out := make([]news.Raw, 0, len(items)+len(doc.Entries))
	for _, it := range items {
		link := strings.TrimSpace(it.Link)
		if link == "" && strings.HasPrefix(strings.TrimSpace(it.GUID), "http") {
			link = strings.TrimSpace(it.GUID)
		}
		out = append(out, news.Raw{
			Title:       it.Title,
			Body:        it.Description,
			Origin:      origin,
			URL:         link,
			PublishedAt: normalizeTime(firstNonEmpty(it.PubDate, it.Date)),
		})
	}
	for _, e := range doc.Entries {
		out = append(out, news.Raw{
			Title:       e.Title,
			Body:        firstNonEmpty(e.Summary, e.Content),
			Origin:      origin,
			URL:         e.link(),
			PublishedAt: normalizeTime(firstNonEmpty(e.Published, e.Updated)),
		})
	}
	return out, nil
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(e.Links) > 0 {
		return strings.TrimSpace(e.Links[0].Href)
	}
	return ""
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// normalizeTime rewrites a feed timestamp as RFC 3339 UTC. Unrecognized
// values are kept as they are.
func normalizeTime(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

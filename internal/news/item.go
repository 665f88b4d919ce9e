// Package news defines the article model that flows through the enrichment
// pipeline: raw articles from sources, enriched items, batches and alerts.
package news

import (
	"math"
	"strings"
)

// Topic is the subject-matter classification of an article.
type Topic string

const (
	TopicEarnings          Topic = "earnings"
	TopicMacro             Topic = "macro"
	TopicRegulatory        Topic = "regulatory"
	TopicMergerAcquisition Topic = "merger_acquisition"
	TopicOther             Topic = "other"
)

// Topics lists every valid Topic.
var Topics = []Topic{TopicEarnings, TopicMacro, TopicRegulatory, TopicMergerAcquisition, TopicOther}

// Region is the geographic focus of an article.
type Region string

const (
	RegionUS     Region = "US"
	RegionEU     Region = "EU"
	RegionAPAC   Region = "APAC"
	RegionGlobal Region = "GLOBAL"
)

// Regions lists every valid Region.
var Regions = []Region{RegionUS, RegionEU, RegionAPAC, RegionGlobal}

// Sentiment is the tone of an article toward its subject.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Sentiments lists every valid Sentiment.
var Sentiments = []Sentiment{SentimentPositive, SentimentNeutral, SentimentNegative}

// Impact is the expected market impact of an article.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Impacts lists every valid Impact.
var Impacts = []Impact{ImpactHigh, ImpactMedium, ImpactLow}

// AlertLevel drives inclusion in the alert list. GREEN is the baseline.
type AlertLevel string

const (
	AlertRed    AlertLevel = "RED"
	AlertYellow AlertLevel = "YELLOW"
	AlertGreen  AlertLevel = "GREEN"
)

// AlertLevels lists every valid AlertLevel, highest severity first.
var AlertLevels = []AlertLevel{AlertRed, AlertYellow, AlertGreen}

// Defaults for fields that no stage has produced yet.
const (
	UnknownTicker         = "UNKNOWN"
	DefaultSentimentScore = 0.5
	PendingSummary        = "Summary not yet generated"
	DefaultSourceCount    = 1
)

// Raw is an article as returned by a source, before any enrichment.
type Raw struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Origin      string `json:"origin"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// Key returns the identifier a raw article will carry once it becomes an Item.
func (r Raw) Key() string {
	if u := strings.TrimSpace(r.URL); u != "" {
		return u
	}
	return r.Origin + ":" + strings.TrimSpace(r.Title)
}

// Item is one article plus every enrichment field produced during a run.
// Each stage writes only its own fields.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Origin      string `json:"origin"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`

	// classify
	Topic  Topic  `json:"topic"`
	Ticker string `json:"ticker"`
	Region Region `json:"region"`

	// score
	Sentiment      Sentiment `json:"sentiment"`
	SentimentScore float64   `json:"sentiment_score"`
	Impact         Impact    `json:"impact"`

	// synthesize
	Summary           string     `json:"summary"`
	HistoricalContext string     `json:"historical_context"`
	AlertLevel        AlertLevel `json:"alert_level"`

	// verify
	Verified          bool   `json:"verified"`
	SourceCount       int    `json:"source_count"`
	UnconfirmedReason string `json:"unconfirmed_reason,omitempty"`
}

// NewItem builds an Item from a raw article with every enrichment field at its default.
func NewItem(r Raw) *Item {
	return &Item{
		ID:                r.Key(),
		Title:             r.Title,
		Body:              r.Body,
		Origin:            r.Origin,
		URL:               r.URL,
		PublishedAt:       r.PublishedAt,
		Topic:             TopicOther,
		Ticker:            UnknownTicker,
		Region:            RegionGlobal,
		Sentiment:         SentimentNeutral,
		SentimentScore:    DefaultSentimentScore,
		Impact:            ImpactMedium,
		Summary:           PendingSummary,
		HistoricalContext: "",
		AlertLevel:        AlertGreen,
		SourceCount:       DefaultSourceCount,
	}
}

// Normalize replaces any categorical value outside its enumeration with the
// default and clamps numeric fields into range.
func (it *Item) Normalize() {
	if !IsTopic(it.Topic) {
		it.Topic = TopicOther
	}
	if strings.TrimSpace(it.Ticker) == "" {
		it.Ticker = UnknownTicker
	}
	if !IsRegion(it.Region) {
		it.Region = RegionGlobal
	}
	if !IsSentiment(it.Sentiment) {
		it.Sentiment = SentimentNeutral
	}
	if math.IsNaN(it.SentimentScore) || it.SentimentScore < 0 || it.SentimentScore > 1 {
		it.SentimentScore = DefaultSentimentScore
	}
	if !IsImpact(it.Impact) {
		it.Impact = ImpactMedium
	}
	if it.Summary == "" {
		it.Summary = PendingSummary
	}
	if !IsAlertLevel(it.AlertLevel) {
		it.AlertLevel = AlertGreen
	}
	if it.SourceCount < 1 {
		it.SourceCount = DefaultSourceCount
	}
}

// Clone returns a copy of the item.
func (it *Item) Clone() *Item {
	cp := *it
	return &cp
}

// IsTopic reports whether t is a valid Topic.
func IsTopic(t Topic) bool { return contains(Topics, t) }

// IsRegion reports whether r is a valid Region.
func IsRegion(r Region) bool { return contains(Regions, r) }

// IsSentiment reports whether s is a valid Sentiment.
func IsSentiment(s Sentiment) bool { return contains(Sentiments, s) }

// IsImpact reports whether i is a valid Impact.
func IsImpact(i Impact) bool { return contains(Impacts, i) }

// IsAlertLevel reports whether l is a valid AlertLevel.
func IsAlertLevel(l AlertLevel) bool { return contains(AlertLevels, l) }

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

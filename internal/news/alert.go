package news

// Alert is a read-only snapshot of the item fields a reader needs to act on.
type Alert struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	AlertLevel AlertLevel `json:"alert_level"`
	Sentiment  Sentiment  `json:"sentiment"`
	Impact     Impact     `json:"market_impact"`
	Ticker     string     `json:"ticker"`
	Summary    string     `json:"summary"`
	Origin     string     `json:"origin"`
	URL        string     `json:"url"`
	Verified   bool       `json:"verified"`
}

// AlertFrom snapshots an item.
func AlertFrom(it *Item) Alert {
	return Alert{
		ID:         it.ID,
		Title:      it.Title,
		AlertLevel: it.AlertLevel,
		Sentiment:  it.Sentiment,
		Impact:     it.Impact,
		Ticker:     it.Ticker,
		Summary:    it.Summary,
		Origin:     it.Origin,
		URL:        it.URL,
		Verified:   it.Verified,
	}
}

// Severity ranks alert levels, lower is more severe. Unknown levels rank last.
func Severity(l AlertLevel) int {
	switch l {
	case AlertRed:
		return 0
	case AlertYellow:
		return 1
	case AlertGreen:
		return 2
	default:
		return 3
	}
}

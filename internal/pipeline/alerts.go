package pipeline

import (
	"sort"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

// ExtractAlerts snapshots every RED or YELLOW item, RED first. Items of equal
// level keep their batch order. The result is never nil.
func ExtractAlerts(items []*news.Item) []news.Alert {
	out := make([]news.Alert, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if it.AlertLevel == news.AlertRed || it.AlertLevel == news.AlertYellow {
			out = append(out, news.AlertFrom(it))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return news.Severity(out[i].AlertLevel) < news.Severity(out[j].AlertLevel)
	})
	return out
}

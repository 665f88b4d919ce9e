// Package verify groups articles that report the same event by headline
// similarity and marks each one verified or unconfirmed.
package verify

import (
	"fmt"

	"github.com/linnemanlabs/newsdesk/internal/news"
)

// DefaultThreshold is the minimum Jaccard similarity for two headlines to be
// treated as the same story.
const DefaultThreshold = 0.6

const (
	ReasonSingleSource = "Only one source reporting this story"
	ReasonFailed       = "Verification process failed"
)

// Clusterer performs greedy, seed-only, single-pass clustering.
type Clusterer struct {
	threshold float64
}

// New returns a Clusterer. A threshold outside (0, 1] falls back to DefaultThreshold.
func New(threshold float64) *Clusterer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Clusterer{threshold: threshold}
}

// Threshold returns the similarity threshold in use.
func (c *Clusterer) Threshold() float64 { return c.threshold }

// Cluster partitions titles into groups of indices. Titles are walked in
// order; each unassigned title seeds a cluster and pulls in every later
// unassigned title whose similarity to the seed meets the threshold.
// Assignment is first-match and never revisited.
func (c *Clusterer) Cluster(titles []string) [][]int {
	sets := make([]WordSet, len(titles))
	for i, t := range titles {
		sets[i] = Words(t)
	}

	assigned := make([]bool, len(titles))
	var clusters [][]int
	for i := range titles {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []int{i}
		for j := i + 1; j < len(titles); j++ {
			if assigned[j] {
				continue
			}
			if Jaccard(sets[i], sets[j]) >= c.threshold {
				assigned[j] = true
				group = append(group, j)
			}
		}
		clusters = append(clusters, group)
	}
	return clusters
}

// Verify clusters the items by title and writes the verification fields on
// every item. A failure is returned as an error and the caller degrades the
// whole batch with MarkFailed.
func (c *Clusterer) Verify(items []*news.Item) (clusters [][]int, err error) {
	defer func() {
		if r := recover(); r != nil {
			clusters = nil
			err = fmt.Errorf("verify: clustering panicked: %v", r)
		}
	}()

	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	clusters = c.Cluster(titles)

	for _, group := range clusters {
		if len(group) >= 2 {
			for _, idx := range group {
				items[idx].Verified = true
				items[idx].SourceCount = len(group)
				items[idx].UnconfirmedReason = ""
			}
			continue
		}
		it := items[group[0]]
		it.Verified = false
		it.SourceCount = 1
		it.UnconfirmedReason = ReasonSingleSource
	}
	return clusters, nil
}

// MarkFailed marks every item unverified after a clustering failure.
func MarkFailed(items []*news.Item) {
	for _, it := range items {
		if it == nil {
			continue
		}
		it.Verified = false
		it.SourceCount = 1
		it.UnconfirmedReason = ReasonFailed
	}
}

package results

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var errNotAbsolute = errors.New("url is not absolute")

const (
	DuplicateByURL   = "url"
	DuplicateByTitle = "title"

	DefaultTitleSimilarityThreshold = 0.9
)

// RawInput is a stored raw hit with the ordering keys of its execution.
type RawInput struct {
	ID             string
	ExecutionOrder int
	Position       int
	Title          string
	Link           string
	Snippet        string
	DisplayLink    string
	Date           string
	Raw            []byte
}

// Processed is a deduplicated result ready to be stored.
type Processed struct {
	RawResultID     string
	Title           string
	URL             string
	NormalizedURL   string
	Snippet         string
	Domain          string
	DocumentType    string
	PublicationYear *int
	IsPDF           bool
	DuplicateCount  int
}

// Duplicate links a dropped raw hit to the raw hit that was kept.
type Duplicate struct {
	OriginalRawID  string
	DuplicateRawID string
	Type           string
	Similarity     float64
}

// Summary reports what a processing pass did.
type Summary struct {
	TotalRaw   int      `json:"total_raw"`
	Processed  int      `json:"processed"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
}

type Options struct {
	TitleSimilarityThreshold float64
	Now                      time.Time
}

// Process normalises and deduplicates raws in execution order, then position.
// It never fails as a whole: unusable rows are reported in Summary.Errors.
func Process(raws []RawInput, opts Options) ([]Processed, []Duplicate, Summary) {
	threshold := opts.TitleSimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultTitleSimilarityThreshold
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ordered := make([]RawInput, len(raws))
	copy(ordered, raws)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ExecutionOrder != ordered[j].ExecutionOrder {
			return ordered[i].ExecutionOrder < ordered[j].ExecutionOrder
		}
		return ordered[i].Position < ordered[j].Position
	})

	summary := Summary{TotalRaw: len(raws)}
	var (
		kept   []Processed
		tokens []map[string]struct{}
		dups   []Duplicate
		byURL  = map[string]int{}
	)

	for _, r := range ordered {
		norm, err := NormalizeURL(r.Link)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("raw result %s: %v", r.ID, err))
			continue
		}
		title := CleanText(r.Title)

		if idx, ok := byURL[norm]; ok {
			kept[idx].DuplicateCount++
			dups = append(dups, Duplicate{OriginalRawID: kept[idx].RawResultID, DuplicateRawID: r.ID, Type: DuplicateByURL, Similarity: 1})
			continue
		}

		tt := titleTokens(title)
		if idx, sim := bestTitleMatch(tokens, tt); idx >= 0 && sim >= threshold {
			kept[idx].DuplicateCount++
			dups = append(dups, Duplicate{OriginalRawID: kept[idx].RawResultID, DuplicateRawID: r.ID, Type: DuplicateByTitle, Similarity: sim})
			continue
		}

		snippet := CleanText(r.Snippet)
		domain := Domain(norm)
		if domain == "" {
			domain = r.DisplayLink
		}
		p := Processed{
			RawResultID:     r.ID,
			Title:           title,
			URL:             r.Link,
			NormalizedURL:   norm,
			Snippet:         snippet,
			Domain:          domain,
			DocumentType:    DetectDocumentType(r.Link, title),
			PublicationYear: DetectYear(r.Raw, r.Date, now, snippet, title),
			IsPDF:           IsPDF(r.Link),
		}
		byURL[norm] = len(kept)
		kept = append(kept, p)
		tokens = append(tokens, tt)
	}

	summary.Processed = len(kept)
	summary.Duplicates = len(dups)
	return kept, dups, summary
}

func bestTitleMatch(seen []map[string]struct{}, tt map[string]struct{}) (int, float64) {
	best, bestSim := -1, 0.0
	for i, s := range seen {
		if sim := Jaccard(s, tt); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best, bestSim
}

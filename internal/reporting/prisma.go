// Package reporting builds PRISMA flow numbers, narrative summaries and
// export files for a review session.
package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
)

// Flow is the PRISMA record flow of one session.
type Flow struct {
	Identified        int                  `json:"identified"`
	DuplicatesRemoved int                  `json:"duplicates_removed"`
	InvalidRemoved    int                  `json:"invalid_removed"`
	Screened          int                  `json:"screened"`
	Excluded          int                  `json:"excluded"`
	ExclusionReasons  []review.ReasonCount `json:"exclusion_reasons"`
	Maybe             int                  `json:"maybe"`
	Pending           int                  `json:"pending"`
	Included          int                  `json:"included"`
}

// BuildFlow derives the flow from the raw hit count, the recorded duplicate
// relationships and the review tallies. Raw hits that were neither kept nor
// linked as duplicates were dropped as unusable.
func BuildFlow(identified, duplicates int, c review.Counts) Flow {
	f := Flow{
		Identified:        identified,
		DuplicatesRemoved: duplicates,
		Screened:          c.Total,
		Excluded:          c.Exclude,
		ExclusionReasons:  review.SortedReasons(c.Reasons),
		Maybe:             c.Maybe,
		Pending:           c.Pending,
		Included:          c.Include,
	}
	if rest := identified - duplicates - c.Total; rest > 0 {
		f.InvalidRemoved = rest
	}
	return f
}

// Breakdown is a labelled count.
type Breakdown struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Report is everything an export or summary needs about a session.
type Report struct {
	GeneratedAt time.Time
	Session     store.Session
	Strategy    *strategy.Strategy
	Queries     []store.QueryRecord
	Executions  store.ExecutionStats
	Engines     []string
	FirstSearch *time.Time
	LastSearch  *time.Time
	Flow        Flow
	Progress    review.Progress
	Results     []store.ProcessedResult
}

// ByDomain counts results per domain, largest first.
func (r Report) ByDomain(limit int) []Breakdown {
	return breakdown(r.Results, func(p store.ProcessedResult) string { return p.Domain }, limit)
}

// ByDocumentType counts results per detected document type.
func (r Report) ByDocumentType() []Breakdown {
	return breakdown(r.Results, func(p store.ProcessedResult) string { return p.DocumentType }, 0)
}

func breakdown(rs []store.ProcessedResult, key func(store.ProcessedResult) string, limit int) []Breakdown {
	counts := map[string]int{}
	for _, r := range rs {
		k := key(r)
		if k == "" {
			k = "unknown"
		}
		counts[k]++
	}
	out := make([]Breakdown, 0, len(counts))
	for k, n := range counts {
		out = append(out, Breakdown{Label: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RenderSummary writes the plain-text PRISMA narrative.
func RenderSummary(r Report) string {
	var b strings.Builder
	f := r.Flow
	fmt.Fprintf(&b, "%s\n%s\n\n", r.Session.Title, strings.Repeat("=", len(r.Session.Title)))
	fmt.Fprintf(&b, "Status: %s\nGenerated: %s\n\n", r.Session.Status.Label(), r.GeneratedAt.UTC().Format(time.RFC1123))

	b.WriteString("PRISMA summary\n--------------\n")
	fmt.Fprintf(&b, "The searches identified %d records. ", f.Identified)
	fmt.Fprintf(&b, "After removing %d duplicates", f.DuplicatesRemoved)
	if f.InvalidRemoved > 0 {
		fmt.Fprintf(&b, " and %d unusable records", f.InvalidRemoved)
	}
	fmt.Fprintf(&b, ", %d records were screened. ", f.Screened)
	fmt.Fprintf(&b, "%d were excluded, %d were included", f.Excluded, f.Included)
	if f.Maybe > 0 {
		fmt.Fprintf(&b, ", %d remain marked maybe", f.Maybe)
	}
	if f.Pending > 0 {
		fmt.Fprintf(&b, " and %d are still pending review", f.Pending)
	}
	b.WriteString(".\n")
	if len(f.ExclusionReasons) > 0 {
		b.WriteString("\nReasons for exclusion:\n")
		for _, rc := range f.ExclusionReasons {
			fmt.Fprintf(&b, "  - %s: %d\n", rc.Label, rc.Count)
		}
	}

	b.WriteString("\nSearch strategy\n---------------\n")
	if r.Strategy == nil {
		b.WriteString("No search strategy defined.\n")
	} else {
		s := r.Strategy
		fmt.Fprintf(&b, "Population: %s\n", joinOrNone(s.PopulationTerms))
		fmt.Fprintf(&b, "Interest: %s\n", joinOrNone(s.InterestTerms))
		fmt.Fprintf(&b, "Context: %s\n", joinOrNone(s.ContextTerms))
		fmt.Fprintf(&b, "Domains: %s\n", joinOrNone(s.Domains))
		fmt.Fprintf(&b, "File types: %s\n", joinOrNone(s.FileTypes))
		fmt.Fprintf(&b, "Search type: %s\n", s.SearchType)
	}
	if len(r.Queries) > 0 {
		fmt.Fprintf(&b, "\nQueries (%d):\n", len(r.Queries))
		for i, q := range r.Queries {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, q.Text)
		}
	}
	e := r.Executions
	fmt.Fprintf(&b, "\nExecutions: %d (%d completed, %d failed)\n", e.Total, e.Completed, e.Failed)
	if len(r.Engines) > 0 {
		fmt.Fprintf(&b, "Engines: %s\n", strings.Join(r.Engines, ", "))
	}
	if r.FirstSearch != nil && r.LastSearch != nil {
		fmt.Fprintf(&b, "Searches run: %s to %s\n", r.FirstSearch.UTC().Format("2006-01-02"), r.LastSearch.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Credits used: %d (estimated cost $%.4f)\n", e.TotalCredits, e.TotalCost)

	if len(r.Results) > 0 {
		b.WriteString("\nResults by domain\n-----------------\n")
		for _, d := range r.ByDomain(10) {
			fmt.Fprintf(&b, "  %s: %d\n", d.Label, d.Count)
		}
		b.WriteString("\nResults by document type\n------------------------\n")
		for _, d := range r.ByDocumentType() {
			fmt.Fprintf(&b, "  %s: %d\n", d.Label, d.Count)
		}
	}
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, "; ")
}

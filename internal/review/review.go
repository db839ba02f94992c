// Package review holds the screening vocabulary: decisions, exclusion
// reasons, system tags and the progress/completion rules built on them.
package review

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionInclude Decision = "include"
	DecisionExclude Decision = "exclude"
	DecisionMaybe   Decision = "maybe"
)

type ExclusionReason string

const (
	ReasonNotRelevant       ExclusionReason = "not_relevant"
	ReasonWrongPopulation   ExclusionReason = "wrong_population"
	ReasonWrongIntervention ExclusionReason = "wrong_intervention"
	ReasonWrongContext      ExclusionReason = "wrong_context"
	ReasonNotGreyLiterature ExclusionReason = "not_grey_literature"
	ReasonDuplicate         ExclusionReason = "duplicate"
	ReasonNoAccess          ExclusionReason = "no_access"
	ReasonLanguage          ExclusionReason = "language"
	ReasonOther             ExclusionReason = "other"
)

var reasonLabels = map[ExclusionReason]string{
	ReasonNotRelevant:       "Not relevant to research question",
	ReasonWrongPopulation:   "Wrong population",
	ReasonWrongIntervention: "Wrong intervention/interest",
	ReasonWrongContext:      "Wrong context",
	ReasonNotGreyLiterature: "Not grey literature",
	ReasonDuplicate:         "Duplicate",
	ReasonNoAccess:          "Full text not accessible",
	ReasonLanguage:          "Language",
	ReasonOther:             "Other",
}

// System tag names seeded by the initial migration.
const (
	TagInclude = "Include"
	TagExclude = "Exclude"
	TagMaybe   = "Maybe"
)

var ErrInvalidDecision = errors.New("invalid review decision")

func (d Decision) Valid() bool {
	switch d {
	case DecisionPending, DecisionInclude, DecisionExclude, DecisionMaybe:
		return true
	}
	return false
}

func (r ExclusionReason) Valid() bool {
	_, ok := reasonLabels[r]
	return ok
}

func (r ExclusionReason) Label() string {
	if l, ok := reasonLabels[r]; ok {
		return l
	}
	return string(r)
}

// Reasons lists every exclusion reason in display order.
func Reasons() []ExclusionReason {
	return []ExclusionReason{
		ReasonNotRelevant, ReasonWrongPopulation, ReasonWrongIntervention, ReasonWrongContext,
		ReasonNotGreyLiterature, ReasonDuplicate, ReasonNoAccess, ReasonLanguage, ReasonOther,
	}
}

// DecisionInput is what a reviewer submits for one result.
type DecisionInput struct {
	Decision        Decision        `json:"decision"`
	ExclusionReason ExclusionReason `json:"exclusion_reason,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Normalize lower-cases enumerations and clears a reason on non-exclusions.
func (in *DecisionInput) Normalize() error {
	in.Decision = Decision(strings.ToLower(strings.TrimSpace(string(in.Decision))))
	in.ExclusionReason = ExclusionReason(strings.ToLower(strings.TrimSpace(string(in.ExclusionReason))))
	in.Notes = strings.TrimSpace(in.Notes)

	errs := validate.Errors{}
	if !in.Decision.Valid() {
		errs.Add("decision", "must be pending, include, exclude or maybe")
	}
	if in.Decision == DecisionExclude {
		switch {
		case in.ExclusionReason == "":
			errs.Add("exclusion_reason", "required when excluding")
		case !in.ExclusionReason.Valid():
			errs.Add("exclusion_reason", fmt.Sprintf("unknown reason %q", in.ExclusionReason))
		case in.ExclusionReason == ReasonOther && in.Notes == "":
			errs.Add("notes", "required when the exclusion reason is other")
		}
	} else {
		in.ExclusionReason = ""
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	return nil
}

// DecisionForTag maps a system tag name to the decision it implies.
func DecisionForTag(name string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "include":
		return DecisionInclude, true
	case "exclude":
		return DecisionExclude, true
	case "maybe":
		return DecisionMaybe, true
	}
	return "", false
}

// Counts are per-decision totals for a session. Results without a stored
// decision count as pending.
type Counts struct {
	Total   int
	Include int
	Exclude int
	Maybe   int
	Pending int
	Reasons map[ExclusionReason]int
}

// Progress is the reviewer-facing summary of Counts.
type Progress struct {
	Total            int           `json:"total"`
	Reviewed         int           `json:"reviewed"`
	Included         int           `json:"included"`
	Excluded         int           `json:"excluded"`
	Maybe            int           `json:"maybe"`
	Pending          int           `json:"pending"`
	PercentReviewed  float64       `json:"percent_reviewed"`
	ExclusionReasons []ReasonCount `json:"exclusion_reasons"`
}

type ReasonCount struct {
	Reason ExclusionReason `json:"reason"`
	Label  string          `json:"label"`
	Count  int             `json:"count"`
}

func BuildProgress(c Counts) Progress {
	reviewed := c.Include + c.Exclude + c.Maybe
	p := Progress{
		Total:    c.Total,
		Reviewed: reviewed,
		Included: c.Include,
		Excluded: c.Exclude,
		Maybe:    c.Maybe,
		Pending:  c.Pending,
	}
	if c.Total > 0 {
		p.PercentReviewed = float64(int(float64(reviewed)/float64(c.Total)*1000+0.5)) / 10
	}
	p.ExclusionReasons = SortedReasons(c.Reasons)
	return p
}

// SortedReasons orders non-zero reason counts by count, then display order.
func SortedReasons(m map[ExclusionReason]int) []ReasonCount {
	order := map[ExclusionReason]int{}
	for i, r := range Reasons() {
		order[r] = i
	}
	out := make([]ReasonCount, 0, len(m))
	for r, n := range m {
		if n > 0 {
			out = append(out, ReasonCount{Reason: r, Label: r.Label(), Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return order[out[i].Reason] < order[out[j].Reason]
	})
	return out
}

// CheckCompletion returns blocking issues and non-blocking warnings for
// marking a review complete.
func CheckCompletion(c Counts) (issues, warnings []string) {
	if c.Total == 0 {
		issues = append(issues, "session has no results to review")
	}
	if c.Pending > 0 {
		issues = append(issues, fmt.Sprintf("%d results still pending review", c.Pending))
	}
	if c.Maybe > 0 {
		warnings = append(warnings, fmt.Sprintf("%d results are marked maybe", c.Maybe))
	}
	return issues, warnings
}

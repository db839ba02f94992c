// Package strategy turns a PIC (population / interest / context) term set
// into the boolean query strings sent to the search provider.
package strategy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

const (
	MaxTermLength  = 200
	MaxQueryLength = 2048

	SearchTypeGoogle  = "google"
	SearchTypeScholar = "scholar"
	SearchTypeNews    = "news"

	QueryTypeGeneral = "general"
	QueryTypeDomain  = "domain"

	DefaultMaxResults = 50
)

// ErrIncomplete is returned when a strategy cannot generate queries.
var ErrIncomplete = errors.New("search strategy incomplete")

var allowedFileTypes = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "ppt": {}, "pptx": {},
	"xls": {}, "xlsx": {}, "rtf": {}, "txt": {},
}

// Strategy is the editable search definition of a session.
type Strategy struct {
	PopulationTerms      []string `json:"population_terms"`
	InterestTerms        []string `json:"interest_terms"`
	ContextTerms         []string `json:"context_terms"`
	Domains              []string `json:"domains"`
	IncludeGeneralSearch bool     `json:"include_general_search"`
	FileTypes            []string `json:"file_types"`
	SearchType           string   `json:"search_type"`
	MaxResults           int      `json:"max_results"`
}

// Query is one generated search string.
type Query struct {
	Text           string   `json:"query_text"`
	Type           string   `json:"query_type"`
	TargetDomain   string   `json:"target_domain,omitempty"`
	FileTypes      []string `json:"file_types,omitempty"`
	ExecutionOrder int      `json:"execution_order"`
}

// Normalize cleans every list in place and validates enumerations. The
// returned error is a validate.Errors keyed by field name.
func (s *Strategy) Normalize() error {
	errs := validate.Errors{}
	s.PopulationTerms = cleanTerms(s.PopulationTerms, "population_terms", errs)
	s.InterestTerms = cleanTerms(s.InterestTerms, "interest_terms", errs)
	s.ContextTerms = cleanTerms(s.ContextTerms, "context_terms", errs)

	domains := make([]string, 0, len(s.Domains))
	seen := map[string]struct{}{}
	for _, raw := range s.Domains {
		d := NormalizeDomain(raw)
		if d == "" {
			continue
		}
		if !strings.Contains(d, ".") || strings.ContainsAny(d, " \t") {
			errs.Add("domains", fmt.Sprintf("invalid domain %q", raw))
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	s.Domains = domains

	fileTypes := make([]string, 0, len(s.FileTypes))
	seenFT := map[string]struct{}{}
	for _, raw := range s.FileTypes {
		ft := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), ".")
		if ft == "" {
			continue
		}
		if _, ok := allowedFileTypes[ft]; !ok {
			errs.Add("file_types", fmt.Sprintf("unsupported file type %q", raw))
			continue
		}
		if _, ok := seenFT[ft]; ok {
			continue
		}
		seenFT[ft] = struct{}{}
		fileTypes = append(fileTypes, ft)
	}
	s.FileTypes = fileTypes

	s.SearchType = strings.ToLower(strings.TrimSpace(s.SearchType))
	switch s.SearchType {
	case "":
		s.SearchType = SearchTypeGoogle
	case SearchTypeGoogle, SearchTypeScholar, SearchTypeNews:
	default:
		errs.Add("search_type", "must be google, scholar or news")
	}

	if s.MaxResults == 0 {
		s.MaxResults = DefaultMaxResults
	}
	if s.MaxResults < 0 {
		errs.Add("max_results", "must be positive")
	}
	return errs.Err()
}

func cleanTerms(in []string, field string, errs validate.Errors) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, raw := range in {
		t := strings.Join(strings.Fields(raw), " ")
		if t == "" {
			continue
		}
		if len(t) > MaxTermLength {
			errs.Add(field, fmt.Sprintf("term exceeds %d characters", MaxTermLength))
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizeDomain strips scheme, www. prefix, path and port.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.Trim(d, ".")
}

// IsComplete reports whether the strategy has every PIC category and a target.
func (s Strategy) IsComplete() bool {
	return len(s.PopulationTerms) > 0 && len(s.InterestTerms) > 0 && len(s.ContextTerms) > 0 &&
		(len(s.Domains) > 0 || s.IncludeGeneralSearch)
}

// MissingParts names what is still missing for completeness.
func (s Strategy) MissingParts() []string {
	var out []string
	if len(s.PopulationTerms) == 0 {
		out = append(out, "population_terms")
	}
	if len(s.InterestTerms) == 0 {
		out = append(out, "interest_terms")
	}
	if len(s.ContextTerms) == 0 {
		out = append(out, "context_terms")
	}
	if len(s.Domains) == 0 && !s.IncludeGeneralSearch {
		out = append(out, "domains or include_general_search")
	}
	return out
}

// BaseQuery joins each non-empty PIC group as (a OR "b c") with AND.
func (s Strategy) BaseQuery() string {
	var groups []string
	for _, terms := range [][]string{s.PopulationTerms, s.InterestTerms, s.ContextTerms} {
		if g := orGroup(terms); g != "" {
			groups = append(groups, g)
		}
	}
	return strings.Join(groups, " AND ")
}

func orGroup(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = quote(t)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func quote(term string) string {
	term = strings.ReplaceAll(term, `"`, "")
	if strings.ContainsAny(term, " \t-") {
		return `"` + term + `"`
	}
	return term
}

func (s Strategy) fileTypeSuffix() string {
	if len(s.FileTypes) == 0 {
		return ""
	}
	parts := make([]string, len(s.FileTypes))
	for i, ft := range s.FileTypes {
		parts[i] = "filetype:" + ft
	}
	if len(parts) == 1 {
		return " " + parts[0]
	}
	return " (" + strings.Join(parts, " OR ") + ")"
}

// Queries generates one query per domain plus an optional general query,
// capped at maxQueries (no cap when maxQueries <= 0).
func (s Strategy) Queries(maxQueries int) ([]Query, error) {
	if !s.IsComplete() {
		return nil, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(s.MissingParts(), ", "))
	}
	base := s.BaseQuery()
	suffix := s.fileTypeSuffix()

	var out []Query
	add := func(q Query) error {
		if len(q.Text) > MaxQueryLength {
			return fmt.Errorf("query exceeds %d characters (%d)", MaxQueryLength, len(q.Text))
		}
		q.ExecutionOrder = len(out)
		q.FileTypes = s.FileTypes
		out = append(out, q)
		return nil
	}
	for _, d := range s.Domains {
		if maxQueries > 0 && len(out) >= maxQueries {
			return out, nil
		}
		if err := add(Query{Text: base + " site:" + d + suffix, Type: QueryTypeDomain, TargetDomain: d}); err != nil {
			return nil, err
		}
	}
	if s.IncludeGeneralSearch && (maxQueries <= 0 || len(out) < maxQueries) {
		if err := add(Query{Text: base + suffix, Type: QueryTypeGeneral}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

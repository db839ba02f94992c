// Package results normalises raw search hits, removes duplicates and keeps a
// per-session full-text index over the processed set.
package results

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Document types assigned to processed results.
const (
	DocPDF          = "pdf"
	DocWord         = "word"
	DocPresentation = "presentation"
	DocSpreadsheet  = "spreadsheet"
	DocReport       = "report"
	DocThesis       = "thesis"
	DocPolicy       = "policy"
	DocGuideline    = "guideline"
	DocWebpage      = "webpage"
)

var extensionTypes = map[string]string{
	".pdf":  DocPDF,
	".doc":  DocWord,
	".docx": DocWord,
	".rtf":  DocWord,
	".ppt":  DocPresentation,
	".pptx": DocPresentation,
	".xls":  DocSpreadsheet,
	".xlsx": DocSpreadsheet,
}

var titleHints = []struct {
	word, docType string
}{
	{"dissertation", DocThesis},
	{"thesis", DocThesis},
	{"guideline", DocGuideline},
	{"guidance", DocGuideline},
	{"policy", DocPolicy},
	{"report", DocReport},
}

var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "ref": {}, "mc_cid": {}, "mc_eid": {},
}

var yearPattern = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

// CleanText strips markup and collapses whitespace.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeURL produces the comparison key used for URL deduplication.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &url.Error{Op: "normalize", URL: raw, Err: errNotAbsolute}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if p := u.Port(); p != "" && !(p == "80" && u.Scheme == "http") && !(p == "443" && u.Scheme == "https") {
		host += ":" + p
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if _, ok := trackingParams[lk]; ok || strings.HasPrefix(lk, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = encodeSorted(q)

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Domain returns the host of a (normalised) URL without www.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DetectDocumentType classifies by file extension first, then title words.
func DetectDocumentType(link, title string) string {
	if u, err := url.Parse(link); err == nil {
		if t, ok := extensionTypes[strings.ToLower(path.Ext(u.Path))]; ok {
			return t
		}
	}
	lt := strings.ToLower(title)
	if strings.HasPrefix(lt, "[pdf]") {
		return DocPDF
	}
	for _, h := range titleHints {
		if strings.Contains(lt, h.word) {
			return h.docType
		}
	}
	return DocWebpage
}

// IsPDF reports whether the link points at a PDF file.
func IsPDF(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

// DetectYear looks at the provider's structured date fields, then the
// provided date string, then free text. Years outside [1900, now] are ignored.
func DetectYear(raw []byte, date string, now time.Time, texts ...string) *int {
	candidates := make([]string, 0, 4+len(texts))
	if len(raw) > 0 && gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		for _, field := range []string{"year", "date", "page_age", "publicationInfo.summary"} {
			if v := doc.Get(field); v.Exists() {
				candidates = append(candidates, v.String())
			}
		}
	}
	candidates = append(candidates, date)

	for _, c := range candidates {
		if y := yearIn(c, now); y != nil {
			return y
		}
		if strings.Contains(strings.ToLower(c), " ago") {
			y := now.Year()
			return &y
		}
	}
	for _, t := range texts {
		if y := yearIn(t, now); y != nil {
			return y
		}
	}
	return nil
}

func yearIn(s string, now time.Time) *int {
	for _, m := range yearPattern.FindAllString(s, -1) {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if y >= 1900 && y <= now.Year() {
			return &y
		}
	}
	return nil
}

// titleTokens is the lower-cased alphanumeric token set of a title.
func titleTokens(title string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		out[f] = struct{}{}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b|; two empty sets are not similar.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TitleSimilarity compares two titles by token-set Jaccard.
func TitleSimilarity(a, b string) float64 {
	return Jaccard(titleTokens(a), titleTokens(b))
}

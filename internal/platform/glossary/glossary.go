package glossary

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Term is one canonical medical term and the spellings dictation produces for it.
type Term struct {
	Term     string   `yaml:"term"`
	Variants []string `yaml:"variants"`
	ICD10    string   `yaml:"icd10,omitempty"`
	Category string   `yaml:"category,omitempty"`
}

// Match is a term found in a text.
type Match struct {
	Term     string `json:"term"`
	ICD10    string `json:"icd10,omitempty"`
	Category string `json:"category,omitempty"`
}

// Glossary rewrites variant spellings to canonical terms. Matching is
// case-insensitive and whole-word.
type Glossary struct {
	terms   []Term
	byForm  map[string]*Term
	pattern *regexp.Regexp
}

type file struct {
	Terms []Term `yaml:"terms"`
}

func Load(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in obstetric glossary.
func Default() *Glossary {
	g, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("glossary: built-in dictionary: %v", err))
	}
	return g
}

func Parse(data []byte) (*Glossary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	return New(f.Terms)
}

func New(terms []Term) (*Glossary, error) {
	g := &Glossary{terms: append([]Term(nil), terms...), byForm: make(map[string]*Term)}
	var forms []string
	for i := range g.terms {
		t := &g.terms[i]
		t.Term = strings.TrimSpace(t.Term)
		if t.Term == "" {
			return nil, fmt.Errorf("glossary term %d has no canonical form", i)
		}
		for _, form := range append([]string{t.Term}, t.Variants...) {
			key := fold(form)
			if key == "" {
				continue
			}
			if prev, ok := g.byForm[key]; ok && prev != t {
				return nil, fmt.Errorf("glossary form %q maps to both %q and %q", form, prev.Term, t.Term)
			}
			if _, ok := g.byForm[key]; !ok {
				forms = append(forms, key)
			}
			g.byForm[key] = t
		}
	}
	if len(forms) == 0 {
		return g, nil
	}
	// longest first so multi-word forms win over their prefixes
	sort.Slice(forms, func(i, j int) bool { return len(forms[i]) > len(forms[j]) })
	quoted := make([]string, len(forms))
	for i, f := range forms {
		quoted[i] = regexp.QuoteMeta(f)
	}
	g.pattern = regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	return g, nil
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (g *Glossary) Len() int {
	return len(g.terms)
}

type span struct {
	start, end int
	term       *Term
}

func (g *Glossary) find(text string) []span {
	if g.pattern == nil {
		return nil
	}
	var out []span
	for _, loc := range g.pattern.FindAllStringIndex(text, -1) {
		if !boundaryBefore(text, loc[0]) || !boundaryAfter(text, loc[1]) {
			continue
		}
		t, ok := g.byForm[fold(text[loc[0]:loc[1]])]
		if !ok {
			continue
		}
		out = append(out, span{start: loc[0], end: loc[1], term: t})
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i == len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// Normalize rewrites every variant in text to its canonical term.
// Canonical forms already present are left as written.
func (g *Glossary) Normalize(text string) string {
	spans := g.find(text)
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.start])
		if fold(text[sp.start:sp.end]) == fold(sp.term.Term) {
			b.WriteString(text[sp.start:sp.end])
		} else {
			b.WriteString(sp.term.Term)
		}
		last = sp.end
	}
	b.WriteString(text[last:])
	return b.String()
}

// Detect lists the distinct terms mentioned in text, in order of first mention.
func (g *Glossary) Detect(text string) []Match {
	seen := make(map[*Term]bool)
	var out []Match
	for _, sp := range g.find(text) {
		if seen[sp.term] {
			continue
		}
		seen[sp.term] = true
		out = append(out, Match{Term: sp.term.Term, ICD10: sp.term.ICD10, Category: sp.term.Category})
	}
	return out
}

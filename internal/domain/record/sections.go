package record

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSectionIndex is returned when an index does not address a section.
var ErrSectionIndex = errors.New("section index out of range")

// SectionSet holds the fixed ordered sections of one record. It is not safe
// for concurrent use; the owning authoring session serializes access.
type SectionSet struct {
	sections []Section
}

// NewSectionSet returns an initialized set.
func NewSectionSet() *SectionSet {
	s := &SectionSet{}
	s.Initialize()
	return s
}

// Initialize resets the set to one empty manual section per type, positions 1..N.
func (s *SectionSet) Initialize() {
	s.sections = make([]Section, len(sectionOrder))
	for i, t := range sectionOrder {
		s.sections[i] = Section{
			Type:       t,
			Provenance: ProvenanceManual,
			Position:   i + 1,
		}
	}
}

// LoadExisting replaces the working set with server-supplied sections. An
// empty input falls back to Initialize.
func (s *SectionSet) LoadExisting(sections []Section) {
	if len(sections) == 0 {
		s.Initialize()
		return
	}
	s.sections = append([]Section(nil), sections...)
}

func (s *SectionSet) Len() int {
	return len(s.sections)
}

// At returns a copy of the section at index.
func (s *SectionSet) At(index int) (Section, error) {
	if err := s.check(index); err != nil {
		return Section{}, err
	}
	return s.sections[index], nil
}

// Sections returns a copy of every section in order.
func (s *SectionSet) Sections() []Section {
	return append([]Section(nil), s.sections...)
}

// SetManualContent overwrites the content of a section. Provenance is kept.
func (s *SectionSet) SetManualContent(index int, text string) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.sections[index].Content = text
	return nil
}

// MergeDictated appends dictated text to a section, separated by a single
// space when the section already has content, and tags it with the capture's
// provenance.
func (s *SectionSet) MergeDictated(index int, text string, tag Provenance) error {
	if err := s.check(index); err != nil {
		return err
	}
	if !tag.IsVoice() {
		return fmt.Errorf("merge dictated text: provenance %q is not a dictation tag", tag)
	}
	sec := &s.sections[index]
	if sec.Content != "" {
		sec.Content = sec.Content + " " + text
	} else {
		sec.Content = text
	}
	sec.Provenance = tag
	return nil
}

// ForSubmission returns the sections whose trimmed content is non-empty, in order.
func (s *SectionSet) ForSubmission() []Section {
	out := make([]Section, 0, len(s.sections))
	for _, sec := range s.sections {
		if strings.TrimSpace(sec.Content) == "" {
			continue
		}
		out = append(out, sec)
	}
	return out
}

func (s *SectionSet) check(index int) error {
	if index < 0 || index >= len(s.sections) {
		return fmt.Errorf("%w: %d (have %d)", ErrSectionIndex, index, len(s.sections))
	}
	return nil
}

// Complete fills in any section type missing from sections with an empty
// manual section and orders the result by position. The server uses it so a
// stored record always holds one section per type.
func Complete(sections []Section) []Section {
	byType := make(map[SectionType]Section, len(sections))
	for _, sec := range sections {
		byType[sec.Type] = sec
	}
	out := make([]Section, len(sectionOrder))
	for i, t := range sectionOrder {
		sec, ok := byType[t]
		if !ok {
			sec = Section{Type: t, Provenance: ProvenanceManual}
		}
		if sec.Provenance == "" {
			sec.Provenance = ProvenanceManual
		}
		sec.Position = i + 1
		out[i] = sec
	}
	return out
}

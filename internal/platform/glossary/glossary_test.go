package glossary

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testYAML = `
terms:
  - term: cesárea
    variants: [cesarea, sesarea]
    icd10: O82
    category: procedimiento
  - term: frecuencia cardiaca fetal
    variants: [fcf, latidos fetales]
    category: signo
  - term: preeclampsia
    variants: [pre eclampsia]
    icd10: O14.9
`

func mustParse(t *testing.T) *Glossary {
	t.Helper()
	g, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return g
}

func TestNormalize(t *testing.T) {
	g := mustParse(t)
	tests := []struct {
		in, want string
	}{
		{"antecedente de sesarea en 2019", "antecedente de cesárea en 2019"},
		{"FCF 140", "frecuencia cardiaca fetal 140"},
		{"Cesárea previa", "Cesárea previa"},
		{"descarta Pre Eclampsia.", "descarta preeclampsia."},
		{"cesareas", "cesareas"},
		{"fcf140", "fcf140"},
		{"sin hallazgos", "sin hallazgos"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := g.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	g := mustParse(t)
	got := g.Detect("fcf normal, preeclampsia descartada, latidos fetales presentes, cesarea previa")
	want := []Match{
		{Term: "frecuencia cardiaca fetal", Category: "signo"},
		{Term: "preeclampsia", ICD10: "O14.9"},
		{Term: "cesárea", ICD10: "O82", Category: "procedimiento"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Detect() = %+v, want %+v", got, want)
	}
}

func TestNew_ConflictingVariant(t *testing.T) {
	_, err := New([]Term{
		{Term: "a", Variants: []string{"x"}},
		{Term: "b", Variants: []string{"X"}},
	})
	if err == nil {
		t.Fatal("expected conflict error")
	}
}

func TestNew_MissingCanonical(t *testing.T) {
	if _, err := New([]Term{{Variants: []string{"x"}}}); err == nil {
		t.Fatal("expected error for empty term")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossary.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 terms, got %d", g.Len())
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("terms: [")); err == nil {
		t.Error("expected yaml error")
	}
}

func TestDefault(t *testing.T) {
	g := Default()
	if g.Len() == 0 {
		t.Fatal("built-in glossary is empty")
	}
	if got := g.Normalize("rpm de 6 horas"); got != "ruptura prematura de membranas de 6 horas" {
		t.Errorf("unexpected normalization: %q", got)
	}
}

func TestEmptyGlossary(t *testing.T) {
	g, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.Normalize("texto"); got != "texto" {
		t.Errorf("empty glossary changed text: %q", got)
	}
	if g.Detect("texto") != nil {
		t.Error("empty glossary detected terms")
	}
}

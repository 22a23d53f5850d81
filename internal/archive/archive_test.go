package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/imageeval/internal/model"
)

// buildZip writes the given name -> content entries into an in-memory archive.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestParseSelectionNameMatched(t *testing.T) {
	data := buildZip(t, map[string]string{
		"baseline/cat.jpg":   "b-cat",
		"baseline/apple.png": "b-apple",
		"proposed/cat.png":   "p-cat",
		"proposed/apple.jpg": "p-apple",
		"baseline/":          "",
		"__MACOSX/._cat.jpg": "junk",
		"baseline/.DS_Store": "junk",
	})

	p, err := Parse(data, model.EvaluationSelection)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(p.Items))
	}
	if p.Items[0].ID != "apple" || p.Items[1].ID != "cat" {
		t.Errorf("expected sorted [apple cat], got [%s %s]", p.Items[0].ID, p.Items[1].ID)
	}
	if string(p.Items[1].Left.Data) != "b-cat" || string(p.Items[1].Right.Data) != "p-cat" {
		t.Errorf("baseline must be left and proposed right, got %q / %q",
			p.Items[1].Left.Data, p.Items[1].Right.Data)
	}
	if p.Items[0].Left.Ext() != ".png" {
		t.Errorf("expected .png extension, got %q", p.Items[0].Left.Ext())
	}
}

func TestParseSelectionNumericIndexed(t *testing.T) {
	entries := map[string]string{}
	for _, n := range []string{"0", "1", "2", "10"} {
		entries["left/"+n+".jpg"] = "l" + n
		entries["right/"+n+".jpg"] = "r" + n
	}
	p, err := Parse(buildZip(t, entries), model.EvaluationSelection)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var got []string
	for _, it := range p.Items {
		got = append(got, it.ID)
	}
	want := []string{"0", "1", "2", "10"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseSelectionFailures(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		cause   error
	}{
		{
			name: "mismatched sets",
			entries: map[string]string{
				"baseline/a.jpg": "x", "baseline/b.jpg": "x",
				"proposed/a.jpg": "x", "proposed/c.jpg": "x",
			},
			cause: ErrStructureMismatch,
		},
		{
			name:    "missing proposed group",
			entries: map[string]string{"baseline/a.jpg": "x"},
			cause:   ErrStructureMismatch,
		},
		{
			name:    "empty archive",
			entries: map[string]string{"readme.txt": "hello"},
			cause:   ErrEmptyArchive,
		},
		{
			name: "both prefix pairs",
			entries: map[string]string{
				"baseline/a.jpg": "x", "proposed/a.jpg": "x",
				"left/a.jpg": "x", "right/a.jpg": "x",
			},
			cause: ErrStructureMismatch,
		},
		{
			name: "duplicate identifier",
			entries: map[string]string{
				"baseline/a.jpg": "x", "baseline/a.png": "x",
				"proposed/a.jpg": "x",
			},
			cause: ErrStructureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(buildZip(t, tt.entries), model.EvaluationSelection)
			var ie *ImportError
			if !errors.As(err, &ie) {
				t.Fatalf("expected ImportError, got %v", err)
			}
			if ie.Error() != "archive structure invalid" {
				t.Errorf("unexpected message %q", ie.Error())
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("expected cause %v, got %v", tt.cause, ie.Cause)
			}
		})
	}
}

func TestParseMalformedZip(t *testing.T) {
	_, err := Parse([]byte("definitely not a zip"), model.EvaluationSelection)
	var ie *ImportError
	if !errors.As(err, &ie) {
		t.Fatalf("expected ImportError, got %v", err)
	}
	if err.Error() != "archive structure invalid" {
		t.Errorf("lower-level error leaked: %q", err.Error())
	}
}

func TestParseSizeLimit(t *testing.T) {
	zeros := strings.Repeat("\x00", 64<<10)
	tests := []struct {
		name    string
		entries map[string]string
		limit   int64
		wantErr bool
	}{
		{"highly compressible entry", map[string]string{"left/a.jpg": zeros, "right/a.jpg": "r"}, 1 << 10, true},
		{"sum of entries", map[string]string{"left/a.jpg": zeros[:600], "right/a.jpg": zeros[:600]}, 1000, true},
		{"within limit", map[string]string{"left/a.jpg": zeros[:600], "right/a.jpg": zeros[:400]}, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLimit(buildZip(t, tt.entries), model.EvaluationSelection, tt.limit)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ie *ImportError
			if !errors.As(err, &ie) || !errors.Is(err, ErrTooLarge) {
				t.Errorf("expected ImportError caused by ErrTooLarge, got %v", err)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	data := buildZip(t, map[string]string{
		"answers.yml":      "- Class 1\n- Class 2\n- Class 3\n",
		"images/b.jpg":     "img-b",
		"images/a.jpg":     "img-a",
		"images/sub/c.jpg": "img-c",
	})
	p, err := Parse(data, model.EvaluationClassification)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(p.Items))
	}
	if p.Items[0].ID != "a" || string(p.Items[0].Image.Data) != "img-a" {
		t.Errorf("unexpected first item %+v", p.Items[0].ID)
	}
	labels, err := p.LabelsJSON()
	if err != nil {
		t.Fatalf("LabelsJSON: %v", err)
	}
	if labels != `["Class 1","Class 2","Class 3"]` {
		t.Errorf("unexpected labels JSON %s", labels)
	}
}

func TestParseClassificationFailures(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		cause   error
	}{
		{"no answer key", map[string]string{"images/a.jpg": "x"}, ErrAnswerKey},
		{"mapping instead of list", map[string]string{"answers.yml": "a: b\n", "images/a.jpg": "x"}, ErrAnswerKey},
		{"single label", map[string]string{"answers.yml": "- only\n", "images/a.jpg": "x"}, ErrAnswerKey},
		{"no images", map[string]string{"answers.yml": "- a\n- b\n"}, ErrEmptyArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(buildZip(t, tt.entries), model.EvaluationClassification)
			if !errors.Is(err, tt.cause) {
				t.Errorf("expected %v, got %v", tt.cause, err)
			}
		})
	}
}

func TestAnswerKeyYAMLFallback(t *testing.T) {
	data := buildZip(t, map[string]string{
		"answers.yaml": "[yes, no]",
		"images/1.jpg": "x",
	})
	p, err := Parse(data, model.EvaluationClassification)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Labels) != 2 || p.Labels[0] != "yes" {
		t.Errorf("unexpected labels %v", p.Labels)
	}
}

func TestIdentifier(t *testing.T) {
	tests := map[string]string{
		"proposed/first.jpg": "first",
		"left/12.png":        "12",
		"images/a/b.c.jpeg":  "b.c",
		"baseline/noext":     "noext",
	}
	for in, want := range tests {
		if got := Identifier(in); got != want {
			t.Errorf("Identifier(%q) = %q, want %q", in, got, want)
		}
	}
}

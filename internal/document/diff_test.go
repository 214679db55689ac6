package document

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/codepad/padclient/internal/editorsync"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		from, to string
		want     string
		rangeStr [4]int
	}{
		{"hello world", "hello there world", "there ", [4]int{1, 7, 1, 7}},
		{"abc\ndef", "abc\nxyz", "xyz", [4]int{2, 1, 2, 4}},
		{"aaa", "aa", "", [4]int{1, 3, 1, 4}},
		{"", "new", "new", [4]int{1, 1, 1, 1}},
		{"é", "è", "è", [4]int{1, 1, 1, 2}},
	}
	for _, tt := range tests {
		change, ok := Diff(tt.from, tt.to)
		if !ok {
			t.Fatalf("Diff(%q, %q) reported no change", tt.from, tt.to)
		}
		r := change.Range
		if change.Text != tt.want || [4]int{r.StartLine, r.StartColumn, r.EndLine, r.EndColumn} != tt.rangeStr {
			t.Errorf("Diff(%q, %q) = %+v", tt.from, tt.to, change)
		}
	}
	if _, ok := Diff("same", "same"); ok {
		t.Error("equal texts should report no change")
	}
}

func TestDiffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("applying the diff reproduces the target", prop.ForAll(
		func(from, to string) bool {
			b := NewBuffer(from)
			change, ok := Diff(from, to)
			if !ok {
				return from == to
			}
			err := b.ExecuteEdits(LocalSource, []editorsync.IdentifiedEdit{{Range: change.Range, Text: change.Text}})
			return err == nil && b.Value() == to
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

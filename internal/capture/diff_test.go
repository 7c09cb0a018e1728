package capture

import "testing"

func TestDiff(t *testing.T) {
	cases := []struct {
		name     string
		previous string
		current  string
		tail     int
		want     string
	}{
		{"first capture", "", "A\nB", 10, "A\nB"},
		{"appended lines", "A\nB\nC", "A\nB\nC\nD\nE", 10, "D\nE"},
		{"identical", "A\nB\n\n", "A\nB\n\n", 10, ""},
		{"previous trailing blanks", "A\nB\n\n", "A\nB\nC", 10, "C"},
		{"anchor repeated later", "x\ny", "x\ny\nz\ny\nw", 10, "z\ny\nw"},
		{"no anchor but grew", "A\nB", "X\nY\nZ", 10, "X\nY\nZ"},
		{"no anchor tail limited", "A\nB", "V\nW\nX\nY\nZ", 2, "Y\nZ"},
		{"no anchor same length", "A\nB\nC", "B\nC\nD", 10, ""},
		{"blank previous lines only", "\n\n", "A\nB\nC\nD", 10, "A\nB\nC\nD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, updated := Diff(tc.previous, tc.current, tc.tail)
			if got != tc.want {
				t.Fatalf("Diff() new = %q, want %q", got, tc.want)
			}
			if updated != tc.current {
				t.Fatalf("Diff() updated = %q, want current", updated)
			}
		})
	}
}

func TestDiffIsIdempotent(t *testing.T) {
	inputs := []string{"A", "A\nB\nC", "one\n\ntwo\n", "  \n"}
	for _, input := range inputs {
		first, updated := Diff("", input, 10)
		if first != input {
			t.Fatalf("expected whole input on first diff, got %q", first)
		}
		if again, _ := Diff(updated, input, 10); again != "" {
			t.Fatalf("expected no new content diffing %q against itself, got %q", input, again)
		}
	}
}

func TestDiffDefaultTail(t *testing.T) {
	current := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12"
	got, _ := Diff("a", current, 0)
	if got != "3\n4\n5\n6\n7\n8\n9\n10\n11\n12" {
		t.Fatalf("expected last %d lines, got %q", DefaultTailLines, got)
	}
}

package artifacts

import (
	"errors"
	"testing"
	"time"
)

func TestInputKeyShape(t *testing.T) {
	got := InputKey("widget", 3, "py")
	want := "input/widget/widget_v3.py"
	if got != want {
		t.Fatalf("InputKey = %q, want %q", got, want)
	}
}

func TestParseInputVersion(t *testing.T) {
	tests := []struct {
		key     string
		version int
		ok      bool
	}{
		{"input/widget/widget_v1.py", 1, true},
		{"input/widget/widget_v42.py", 42, true},
		{"input/widget/widget_v0.py", 0, false},
		{"input/widget/widget_vX.py", 0, false},
		{"input/widget/other_v1.py", 0, false},
		{"input/widget/widget_v1.txt", 0, false},
		{"output/widget/widget_v1.py", 0, false},
	}
	for _, tt := range tests {
		version, ok := ParseInputVersion("widget", tt.key, "py")
		if ok != tt.ok || version != tt.version {
			t.Errorf("ParseInputVersion(%q) = (%d, %v), want (%d, %v)", tt.key, version, ok, tt.version, tt.ok)
		}
	}
}

func TestValidateProjectID(t *testing.T) {
	for _, id := range []string{"widget", "Widget-2", "a_b", "7seg"} {
		if err := ValidateProjectID(id); err != nil {
			t.Errorf("ValidateProjectID(%q) = %v, want nil", id, err)
		}
	}
	for _, id := range []string{"", "-lead", "has space", "a/b", "a.b", "../x"} {
		err := ValidateProjectID(id)
		if !errors.Is(err, ErrInvalidProjectID) {
			t.Errorf("ValidateProjectID(%q) = %v, want ErrInvalidProjectID", id, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"STEP", FormatSTEP, true},
		{"step", FormatSTEP, true},
		{".step", FormatSTEP, true},
		{"FCStd", FormatFCStd, true},
		{".FCStd", FormatFCStd, true},
		{"stl", FormatSTL, true},
		{"obj", FormatOBJ, true},
		{"iges", FormatIGES, true},
		{"", "", false},
		{"pdf", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseFormat(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDefaultPriorityOrder(t *testing.T) {
	want := []Format{FormatSTEP, FormatIGES, FormatFCStd, FormatSTL, FormatOBJ}
	got := DefaultPriority()
	if len(got) != len(want) {
		t.Fatalf("priority length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("priority[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	// Mutating the returned slice must not affect later callers.
	got[0] = FormatOBJ
	if DefaultPriority()[0] != FormatSTEP {
		t.Fatal("DefaultPriority returned shared backing array")
	}
}

func TestFormatForKey(t *testing.T) {
	if format, ok := FormatForKey("output/widget/widget.FCStd"); !ok || format != FormatFCStd {
		t.Fatalf("FormatForKey = (%q, %v), want FCSTD", format, ok)
	}
	if _, ok := FormatForKey("output/widget/readme.txt"); ok {
		t.Fatal("unrecognized extension accepted")
	}
}

func TestParseLogTimestamp(t *testing.T) {
	ts, ok := ParseLogTimestamp("widget", "logs/widget/widget_info_20260815_142533.log")
	if !ok {
		t.Fatal("valid log key rejected")
	}
	want := time.Date(2026, 8, 15, 14, 25, 33, 0, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", ts, want)
	}
	if _, ok := ParseLogTimestamp("widget", "logs/widget/widget_info_notatime.log"); ok {
		t.Fatal("malformed timestamp accepted")
	}
	if _, ok := ParseLogTimestamp("widget", "logs/other/other_info_20260815_142533.log"); ok {
		t.Fatal("foreign project log accepted")
	}
}

func TestProcessedKeyShape(t *testing.T) {
	got := ProcessedKey("widget", 2)
	want := "processed/widget/widget_v2.done"
	if got != want {
		t.Fatalf("ProcessedKey = %q, want %q", got, want)
	}
}

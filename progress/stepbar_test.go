package progress

import (
	"strings"
	"testing"
)

func TestStepBarString(t *testing.T) {
	bar := NewStepBar("generating", 100)

	got := bar.String()
	if !strings.HasPrefix(got, "generating   0%") {
		t.Errorf("empty bar = %q", got)
	}
	if !strings.HasSuffix(got, "0/100") {
		t.Errorf("empty bar = %q", got)
	}

	bar.Set(50)
	got = bar.String()
	if !strings.Contains(got, " 50%") {
		t.Errorf("half bar = %q", got)
	}
	if strings.Count(got, "█") != stepBarWidth/2 {
		t.Errorf("half bar fill = %q", got)
	}

	bar.Set(100)
	got = bar.String()
	if !strings.Contains(got, "100%") || !strings.HasSuffix(got, "100/100") {
		t.Errorf("full bar = %q", got)
	}
	if strings.Count(got, "█") != stepBarWidth {
		t.Errorf("full bar fill = %q", got)
	}
}

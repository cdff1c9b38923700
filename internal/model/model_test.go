// internal/model/model_test.go
package model_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dsablic/linestat/internal/model"
)

func TestTotalsAddFileAndMerge(t *testing.T) {
	a := model.Totals{}
	a.AddFile("PYTHON", model.LineCounts{Total: 10, Code: 7, Comment: 1, Empty: 2})
	a.AddFile("PYTHON", model.LineCounts{Total: 3, Code: 3})

	b := model.Totals{}
	b.AddFile("GO", model.LineCounts{Total: 5, Code: 4, Empty: 1})
	b.AddFile("PYTHON", model.LineCounts{Total: 1, Comment: 1})

	a.Merge(b)

	py := a["PYTHON"]
	if py.Files != 3 {
		t.Errorf("expected 3 python files, got %d", py.Files)
	}
	if py.Total != 14 || py.Code != 10 || py.Comment != 2 || py.Empty != 2 {
		t.Errorf("unexpected python counts: %+v", py.LineCounts)
	}
	if a["GO"].Name != "GO" {
		t.Errorf("expected merged entry to carry its name, got %q", a["GO"].Name)
	}

	sum := a.Sum()
	if sum.Files != 4 || sum.Total != 19 {
		t.Errorf("unexpected sum: %+v", sum)
	}
	if sum.Total != sum.Code+sum.Comment+sum.Empty {
		t.Errorf("sum breaks line invariant: %+v", sum)
	}
}

func TestTotalsSorted(t *testing.T) {
	totals := model.Totals{}
	totals.AddFile("B", model.LineCounts{Total: 1, Code: 1})
	totals.AddFile("A", model.LineCounts{Total: 1, Code: 1})
	totals.AddFile("C", model.LineCounts{Total: 9, Code: 9})

	sorted := totals.Sorted()
	var names []string
	for _, ls := range sorted {
		names = append(names, ls.Name)
	}
	if got := strings.Join(names, ","); got != "C,A,B" {
		t.Errorf("expected C,A,B got %s", got)
	}
}

func TestReportJSON(t *testing.T) {
	totals := model.Totals{}
	totals.AddFile("GO", model.LineCounts{Total: 500, Code: 400, Comment: 50, Empty: 50})

	report := model.NewReport(time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC), "today", totals)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal report: %v", err)
	}

	s := string(data)
	for _, want := range []string{
		`"generated_at": "2026-02-18T12:00:00Z"`,
		`"code_lines": 400`,
		`"comment_lines": 50`,
		`"name": "GO"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected JSON to contain %s", want)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	for _, p := range []model.Platform{model.PlatformGitHub, model.PlatformGitLab, model.PlatformGit} {
		if !p.Valid() {
			t.Errorf("expected %s to be valid", p)
		}
	}
	if model.Platform("bitbucket").Valid() {
		t.Error("expected bitbucket to be unsupported")
	}
}

func TestAccountLabel(t *testing.T) {
	a := model.Account{Platform: model.PlatformGitHub, Username: "octo"}
	if a.Label() != "github:octo" {
		t.Errorf("unexpected label %q", a.Label())
	}
	if (model.Account{Platform: model.PlatformGit}).Label() != "git" {
		t.Error("expected bare platform label")
	}
}

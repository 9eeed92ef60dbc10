package ruleset

import (
	"errors"
	"regexp"
	"testing"

	"github.com/John-Robertt/radextract/internal/domain"
)

func TestNew_DuplicateField(t *testing.T) {
	_, err := New(
		domain.FieldRule{Name: "age", Pattern: regexp.MustCompile(`\d+`)},
		domain.FieldRule{Name: "sex", Pattern: regexp.MustCompile(`[MF]`)},
		domain.FieldRule{Name: "age", Pattern: regexp.MustCompile(`Age`)},
	)

	var de *DuplicateFieldError
	if !errors.As(err, &de) {
		t.Fatalf("期望 DuplicateFieldError，实际 err=%v", err)
	}
	if de.Name != "age" {
		t.Fatalf("期望重复字段 age，实际 %q", de.Name)
	}
}

func TestNew_DeclarationOrderAndLookup(t *testing.T) {
	rs, err := New(
		domain.FieldRule{Name: "b", Pattern: regexp.MustCompile(`b`), Required: true},
		domain.FieldRule{Name: "a", Pattern: regexp.MustCompile(`a`)},
	)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	var names []string
	for _, r := range rs.All() {
		names = append(names, r.Name)
	}
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("迭代顺序不符合声明顺序：%v", names)
	}

	r, ok := rs.Lookup("a")
	if !ok || r.Type != domain.TypeString || r.Multiplicity != domain.Single {
		t.Fatalf("Lookup 结果不符合预期：%+v ok=%v", r, ok)
	}
	if req := rs.Required(); len(req) != 1 || req[0] != "b" {
		t.Fatalf("Required 不符合预期：%v", req)
	}
}

func TestNew_RulesIsCopy(t *testing.T) {
	rs, err := New(domain.FieldRule{Name: "a", Pattern: regexp.MustCompile(`a`)})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	got := rs.Rules()
	got[0].Name = "changed"
	if _, ok := rs.Lookup("a"); !ok || rs.Rules()[0].Name != "a" {
		t.Fatalf("Ruleset 不应被外部修改")
	}
}

func TestNew_RejectsInvalidRules(t *testing.T) {
	cases := map[string]domain.FieldRule{
		"empty name":   {Name: " ", Pattern: regexp.MustCompile(`a`)},
		"nil pattern":  {Name: "a"},
		"enum no vals": {Name: "a", Pattern: regexp.MustCompile(`a`), Type: domain.TypeEnum},
	}
	for name, r := range cases {
		if _, err := New(r); err == nil {
			t.Fatalf("%s：期望错误，但得到 nil", name)
		}
	}
}

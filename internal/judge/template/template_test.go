package template_test

import (
	"strings"
	"testing"

	"gavel/internal/judge/model"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/template"
	"gavel/pkg/errors"
)

func lang(t *testing.T, id string) registry.Language {
	t.Helper()
	l, err := registry.New(registry.DefaultBounds()).Get(id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return l
}

func TestAssembleSubstitutesBody(t *testing.T) {
	body := "def solve(input):\n    return input"
	program, err := template.AssembleProgram(nil, lang(t, "python"), body)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !strings.Contains(program, body) {
		t.Fatal("user body missing from assembled program")
	}
	if strings.Contains(program, template.Marker) {
		t.Fatal("marker left in assembled program")
	}
}

func TestAssembleUsesProblemOverride(t *testing.T) {
	problem := &model.Problem{
		Wrappers: map[string]string{
			"python": "# custom harness\n" + template.Marker + "\nprint(solve(42))\n",
		},
	}
	program, err := template.AssembleProgram(problem, lang(t, "python"), "def solve(n):\n    return n")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !strings.Contains(program, "# custom harness") {
		t.Fatal("problem wrapper override not used")
	}
}

func TestAssembleMissingMarker(t *testing.T) {
	problem := &model.Problem{
		Wrappers: map[string]string{"python": "print('no marker here')\n"},
	}
	_, err := template.AssembleProgram(problem, lang(t, "python"), "x")
	if !errors.Is(err, errors.TemplateMalformed) {
		t.Fatalf("expected TemplateMalformed, got %v", err)
	}
}

func TestAssembleDuplicateMarker(t *testing.T) {
	problem := &model.Problem{
		Wrappers: map[string]string{"python": template.Marker + "\n" + template.Marker + "\n"},
	}
	_, err := template.AssembleProgram(problem, lang(t, "python"), "x")
	if !errors.Is(err, errors.TemplateMalformed) {
		t.Fatalf("expected TemplateMalformed, got %v", err)
	}
}

func TestRenderSignatureHidesWrapper(t *testing.T) {
	for _, id := range []string{"c", "cpp", "java", "python", "go", "javascript"} {
		signature, err := template.RenderSignature(nil, lang(t, id))
		if err != nil {
			t.Fatalf("render %s: %v", id, err)
		}
		if strings.Contains(signature, "main") {
			t.Fatalf("signature for %s leaks harness code:\n%s", id, signature)
		}
	}
}

func TestRenderSignatureOverride(t *testing.T) {
	problem := &model.Problem{
		Signatures: map[string]string{"go": "func solve(nums []int) int {\n\t// your code here\n}\n"},
	}
	signature, err := template.RenderSignature(problem, lang(t, "go"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(signature, "nums []int") {
		t.Fatal("problem signature override not used")
	}
}

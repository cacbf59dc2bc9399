package plan

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidatePlanValidFixture(t *testing.T) {
	path := filepath.Join("testdata", "valid-basic.toml")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}

	validated, err := Validate(p)
	if err != nil {
		t.Fatalf("validate plan: %v", err)
	}
	if validated.Project != "reading-list" {
		t.Fatalf("expected project reading-list, got %q", validated.Project)
	}
	if validated.Steps[1].Category != CategoryLogic {
		t.Fatalf("expected normalized category logic, got %q", validated.Steps[1].Category)
	}

	specs := validated.Specs()
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Description != "Scaffold the package and entry point" {
		t.Errorf("unexpected first spec description %q", specs[0].Description)
	}
	if specs[1].Category != CategoryLogic {
		t.Errorf("expected spec category logic, got %q", specs[1].Category)
	}
}

func TestValidatePlanMissingProject(t *testing.T) {
	path := filepath.Join("testdata", "invalid-missing-project.toml")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}

	_, err = Validate(p)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var list *ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected ErrorList, got %T", err)
	}
	assertHasCode(t, list, ErrCodeMissingField, "project")
}

func TestValidatePlanDuplicateStepIDs(t *testing.T) {
	p := &Plan{
		Project: "demo",
		Prompt:  "build it",
		Source:  "testdata/dup.toml",
		Steps: []Step{
			{ID: "core", Description: "first"},
			{ID: "core", Description: "second"},
		},
	}

	_, err := Validate(p)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var list *ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected ErrorList, got %T", err)
	}
	assertHasCode(t, list, ErrCodeDuplicateStep, "steps.id")
}

func TestValidatePlanEmptyDescription(t *testing.T) {
	p := &Plan{
		Project: "demo",
		Prompt:  "build it",
		Steps: []Step{
			{ID: "core", Description: "   "},
		},
	}

	_, err := Validate(p)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var list *ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected ErrorList, got %T", err)
	}
	assertHasCode(t, list, ErrCodeMissingField, "steps.description")
}

func TestValidatePlanUnknownCategory(t *testing.T) {
	p := &Plan{
		Project: "demo",
		Prompt:  "build it",
		Steps: []Step{
			{ID: "core", Description: "step", Category: "deploy"},
		},
	}

	_, err := Validate(p)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var list *ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected ErrorList, got %T", err)
	}
	assertHasCode(t, list, ErrCodeUnknownCategory, "steps.category")
}

func TestValidatePlanEmptyCategoryAllowed(t *testing.T) {
	p := &Plan{
		Project: "demo",
		Prompt:  "build it",
		Steps: []Step{
			{ID: "core", Description: "step"},
		},
	}

	if _, err := Validate(p); err != nil {
		t.Fatalf("expected empty category to pass, got %v", err)
	}
}

func TestValidatePlanNil(t *testing.T) {
	_, err := Validate(nil)
	if err == nil {
		t.Fatal("expected error for nil plan")
	}
}

func TestValidatePlanCollectsAllErrors(t *testing.T) {
	p := &Plan{
		Steps: []Step{
			{ID: "", Description: ""},
		},
	}

	_, err := Validate(p)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var list *ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected ErrorList, got %T", err)
	}
	// missing project, prompt, step id, and step description
	if len(list.Errors) < 4 {
		t.Fatalf("expected at least 4 errors, got %d: %v", len(list.Errors), list.Errors)
	}
}

func assertHasCode(t *testing.T, list *ErrorList, code, field string) {
	t.Helper()
	for _, item := range list.Errors {
		if item.Code == code && item.Field == field {
			return
		}
	}
	t.Fatalf("expected error code %s on field %s, got %v", code, field, list.Errors)
}

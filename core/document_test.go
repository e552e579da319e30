package core

import (
	"context"
	"testing"

	"github.com/legionkit/legion/plan"
	"github.com/legionkit/legion/vars"
)

// testRegistry registers providers for "threat" and "pantry".
func testRegistry(t *testing.T, threatLevel vars.Value) *vars.Registry {
	t.Helper()
	r := vars.NewRegistry()
	if err := r.Register("threat", vars.ProviderFunc(
		func(ctx context.Context, entityID string) (map[string]vars.Value, error) {
			return map[string]vars.Value{"level": threatLevel}, nil
		})); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("pantry", vars.ProviderFunc(
		func(ctx context.Context, entityID string) (map[string]vars.Value, error) {
			return map[string]vars.Value{"currency": true}, nil
		})); err != nil {
		t.Fatal(err)
	}
	return r
}

// fleeDoc compiles "read threat.level; if > 0.7 emit Flee else emit
// Idle".
func fleeDoc(t *testing.T, registry *vars.Registry) *Document {
	t.Helper()
	d := &Document{
		Name:        "flee-or-idle",
		Version:     "1.0",
		Namespaces:  []string{"threat"},
		ActionKinds: []string{"Flee", "Idle"},
		Registers:   3,
		Program: []Instr{
			{Op: OpRead, Dst: 0, Ref: "threat.level", Fallback: 0},
			{Op: OpConst, Dst: 1, Imm: 0.7},
			{Op: OpGt, Dst: 2, Src: 0, Src2: 1},
			{Op: OpBranch, Src: 2, Target: 6},
			{Op: OpEmit, Kind: "Idle"},
			{Op: OpHalt},
			{Op: OpEmit, Kind: "Flee"},
			{Op: OpHalt},
		},
	}
	if err := d.Compile(registry); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCompileRejectsUnregisteredNamespace(t *testing.T) {
	registry := vars.NewRegistry()

	d := &Document{
		Name:        "bad",
		Namespaces:  []string{"threat"},
		ActionKinds: []string{"Idle"},
		Registers:   1,
		Program: []Instr{
			{Op: OpRead, Dst: 0, Ref: "threat.level"},
		},
	}
	err := d.Compile(registry)
	if _, is := err.(*UnregisteredNamespace); !is {
		t.Fatalf("err %v", err)
	}
	if d.Compiled() {
		t.Fatal("partial load")
	}
}

func TestCompileRejectsUndeclaredRef(t *testing.T) {
	registry := testRegistry(t, 0.5)

	d := &Document{
		Name:        "bad",
		Namespaces:  []string{"threat"},
		ActionKinds: []string{"Idle"},
		Registers:   1,
		Program: []Instr{
			{Op: OpRead, Dst: 0, Ref: "economy.gold"},
		},
	}
	err := d.Compile(registry)
	if _, is := err.(*UndeclaredRef); !is {
		t.Fatalf("err %v", err)
	}
}

func TestCompileRejectsMalformedPrograms(t *testing.T) {
	registry := testRegistry(t, 0.5)

	for name, program := range map[string][]Instr{
		"unknown op":       {{Op: "frobnicate"}},
		"register range":   {{Op: OpConst, Dst: 9, Imm: 1}},
		"branch target":    {{Op: OpConst, Dst: 0}, {Op: OpBranch, Src: 0, Target: 7}},
		"jump target":      {{Op: OpJump, Target: -1}},
		"undeclared kind":  {{Op: OpEmit, Kind: "Explode"}},
		"unknown goal":     {{Op: OpPlan, Dst: 0, Goal: "eat"}},
		"bad ref":          {{Op: OpRead, Dst: 0, Ref: "threat"}},
	} {
		d := &Document{
			Name:        "bad-" + name,
			Namespaces:  []string{"threat"},
			ActionKinds: []string{"Idle"},
			Registers:   2,
			Program:     program,
		}
		if err := d.Compile(registry); err == nil {
			t.Errorf("%s: compiled", name)
		}
	}
}

func TestCompileRejectsProgramAndSteps(t *testing.T) {
	d := &Document{
		Name:        "both",
		ActionKinds: []string{"Idle"},
		Registers:   1,
		Program:     []Instr{{Op: OpHalt}},
		Steps:       &Step{Kind: StepEmit, ActionKind: "Idle"},
	}
	if err := d.Compile(nil); err == nil {
		t.Fatal("compiled")
	}

	neither := &Document{Name: "neither"}
	if err := neither.Compile(nil); err == nil {
		t.Fatal("compiled")
	}
}

func TestStepValidation(t *testing.T) {
	for name, step := range map[string]*Step{
		"unknown kind":     {Kind: "teleport"},
		"empty seq":        {Kind: StepSeq},
		"call no timeout":  {Kind: StepCall, Service: "weather"},
		"call no service":  {Kind: StepCall, Timeout: Duration(1e9)},
		"wait both":        {Kind: StepWait, For: Duration(1e9), Cron: "0 * * * *"},
		"wait neither":     {Kind: StepWait},
		"bad cron":         {Kind: StepWait, Cron: "not a cron"},
		"compute no bind":  {Kind: StepCompute, Source: "1+1"},
		"branch no then":   {Kind: StepBranch, Source: "true"},
		"undeclared emit":  {Kind: StepEmit, ActionKind: "Explode"},
	} {
		d := &Document{
			Name:        "bad-" + name,
			ActionKinds: []string{"Idle"},
			Steps:       step,
		}
		if err := d.Compile(nil); err == nil {
			t.Errorf("%s: compiled", name)
		}
	}

	good := &Document{
		Name:        "good",
		ActionKinds: []string{"Idle"},
		Steps: &Step{
			Kind: StepSeq,
			Steps: []*Step{
				{Kind: StepWait, Cron: "0 12 * * *"},
				{Kind: StepEmit, ActionKind: "Idle"},
			},
		},
	}
	if err := good.Compile(nil); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDocumentYAML(t *testing.T) {
	registry := testRegistry(t, 0.5)

	src := `
name: sentry
version: "1.0"
namespaces: [threat]
actionKinds: [Flee, Idle]
registers: 3
program:
  - {op: read, dst: 0, ref: threat.level}
  - {op: const, dst: 1, imm: 0.7}
  - {op: gt, dst: 2, src: 0, src2: 1}
  - {op: branch, src: 2, target: 6}
  - {op: emit, kind: Idle}
  - {op: halt}
  - {op: emit, kind: Flee}
  - {op: halt}
`
	d, err := LoadDocument([]byte(src), registry)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "sentry" || !d.Compiled() {
		t.Fatalf("document %#v", d)
	}
}

func TestLoadDocumentJSON(t *testing.T) {
	registry := testRegistry(t, 0.5)

	src := `{
  "name": "sentry",
  "namespaces": ["threat"],
  "actionKinds": ["Idle"],
  "registers": 1,
  "program": [{"op": "emit", "kind": "Idle"}, {"op": "halt"}]
}`
	if _, err := LoadDocument([]byte(src), registry); err != nil {
		t.Fatal(err)
	}

	// An undeclared namespace in the source must reject the load.
	bad := `{
  "name": "spy",
  "namespaces": ["threat"],
  "actionKinds": ["Idle"],
  "registers": 1,
  "program": [{"op": "read", "dst": 0, "ref": "economy.gold"}]
}`
	if _, err := LoadDocument([]byte(bad), registry); err == nil {
		t.Fatal("loaded")
	}
}

func TestDocumentRef(t *testing.T) {
	registry := testRegistry(t, 0.5)

	v1 := fleeDoc(t, registry)
	ref, err := NewDocumentRef(v1)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Current() != v1 {
		t.Fatal("wrong current")
	}

	v2 := fleeDoc(t, registry)
	v2.Version = "2.0"
	if err := ref.Publish(v2); err != nil {
		t.Fatal(err)
	}
	if ref.Current() != v2 {
		t.Fatal("publish didn't swap")
	}

	// An uncompiled document can't be published.
	if err := ref.Publish(&Document{Name: "raw"}); err == nil {
		t.Fatal("published uncompiled document")
	}
}

func TestGoalValidation(t *testing.T) {
	registry := testRegistry(t, 0.5)

	d := &Document{
		Name:        "planner",
		Namespaces:  []string{"pantry"},
		ActionKinds: []string{"Forage", "Done"},
		Registers:   1,
		Goals: map[string]*GoalSpec{
			"eat": {
				Goal: plan.Facts{"have(food)": true},
				Library: []plan.Action{
					{Name: "Forage", Cost: 2, Eff: plan.Facts{"have(food)": true}},
				},
				World: map[string]string{"have(currency)": "pantry.currency"},
			},
		},
		Program: []Instr{
			{Op: OpPlan, Dst: 0, Goal: "eat"},
			{Op: OpHalt},
		},
	}
	if err := d.Compile(registry); err != nil {
		t.Fatal(err)
	}

	// A goal whose library emits an undeclared kind is rejected.
	d2 := &Document{
		Name:        "planner-bad",
		Namespaces:  []string{"pantry"},
		ActionKinds: []string{"Done"},
		Registers:   1,
		Goals: map[string]*GoalSpec{
			"eat": {
				Goal: plan.Facts{"have(food)": true},
				Library: []plan.Action{
					{Name: "Forage", Cost: 2, Eff: plan.Facts{"have(food)": true}},
				},
			},
		},
		Program: []Instr{
			{Op: OpPlan, Dst: 0, Goal: "eat"},
			{Op: OpHalt},
		},
	}
	err := d2.Compile(registry)
	if _, is := err.(*UndeclaredActionKind); !is {
		t.Fatalf("err %v", err)
	}
}

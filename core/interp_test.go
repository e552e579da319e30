package core

import (
	"context"
	"errors"
	"testing"

	"github.com/legionkit/legion/plan"
	"github.com/legionkit/legion/vars"
)

func kinds(actions []Action) []string {
	acc := make([]string, len(actions))
	for i, a := range actions {
		acc[i] = a.Kind
	}
	return acc
}

func TestTickFlee(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.9)
	d := fleeDoc(t, registry)

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := m.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != TickDone {
		t.Fatalf("status %v", r.Status)
	}
	if got := kinds(r.Actions); len(got) != 1 || got[0] != "Flee" {
		t.Fatalf("actions %v", got)
	}
}

func TestTickIdleOnUnavailable(t *testing.T) {
	ctx := context.Background()

	registry := vars.NewRegistry()
	if err := registry.Register("threat", vars.ProviderFunc(
		func(ctx context.Context, entityID string) (map[string]vars.Value, error) {
			return nil, errors.New("provider down")
		})); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register("pantry", vars.ProviderFunc(
		func(ctx context.Context, entityID string) (map[string]vars.Value, error) {
			return nil, nil
		})); err != nil {
		t.Fatal(err)
	}

	d := fleeDoc(t, registry) // read has declared fallback 0.0

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := m.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := kinds(r.Actions); len(got) != 1 || got[0] != "Idle" {
		t.Fatalf("actions %v", got)
	}
}

func TestTickYieldAndResume(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.9)
	d := fleeDoc(t, registry)

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Budget of 2 covers read and const only.
	r, err := m.Tick(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != TickYielded {
		t.Fatalf("status %v", r.Status)
	}
	if len(r.Actions) != 0 {
		t.Fatalf("actions %v", kinds(r.Actions))
	}

	// The next tick resumes where the last one yielded.
	r, err = m.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != TickDone {
		t.Fatalf("status %v", r.Status)
	}
	if got := kinds(r.Actions); len(got) != 1 || got[0] != "Flee" {
		t.Fatalf("actions %v", got)
	}
	if r.Steps != 4 {
		t.Fatalf("steps %d", r.Steps)
	}
}

func planDoc(t *testing.T, registry *vars.Registry, worldRef string) *Document {
	t.Helper()
	d := &Document{
		Name:        "eater",
		Namespaces:  []string{"pantry"},
		ActionKinds: []string{"Forage", "Buy"},
		Registers:   1,
		Goals: map[string]*GoalSpec{
			"eat": {
				Goal: plan.Facts{"have(food)": true},
				Library: []plan.Action{
					{Name: "Forage", Cost: 2, Eff: plan.Facts{"have(food)": true}},
					{Name: "Buy", Cost: 5,
						Pre: plan.Facts{"have(currency)": true},
						Eff: plan.Facts{"have(food)": true}},
				},
				World: map[string]string{"have(currency)": worldRef},
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
	return d
}

func TestTickPlannerInvoke(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.5)
	d := planDoc(t, registry, "pantry.currency")

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, PlannerFunc(plan.Find))
	if err != nil {
		t.Fatal(err)
	}

	r, err := m.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := kinds(r.Actions); len(got) != 1 || got[0] != "Forage" {
		t.Fatalf("actions %v", got)
	}
	if m.regs[0] != 1 {
		t.Fatalf("plan flag %v", m.regs[0])
	}
}

func TestTickPlannerNoPlan(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.5)

	d := &Document{
		Name:        "stuck",
		Namespaces:  []string{"pantry"},
		ActionKinds: []string{"Buy"},
		Registers:   1,
		Goals: map[string]*GoalSpec{
			"eat": {
				Goal: plan.Facts{"have(food)": true},
				Library: []plan.Action{
					{Name: "Buy", Cost: 5,
						Pre: plan.Facts{"have(gold)": true},
						Eff: plan.Facts{"have(food)": true}},
				},
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

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, PlannerFunc(plan.Find))
	if err != nil {
		t.Fatal(err)
	}

	// No plan is a normal, non-fatal result.
	r, err := m.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Actions) != 0 {
		t.Fatalf("actions %v", kinds(r.Actions))
	}
	if m.regs[0] != 0 {
		t.Fatalf("plan flag %v", m.regs[0])
	}
}

func TestNewMachineRequiresPlanner(t *testing.T) {
	registry := testRegistry(t, 0.5)
	d := planDoc(t, registry, "pantry.currency")
	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	if _, err := NewMachine(d, cache, nil); err != ErrNoPlanner {
		t.Fatalf("err %v", err)
	}
}

func TestMachineSnapshotRestore(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.9)
	d := fleeDoc(t, registry)

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Tick(ctx, 2); err != nil {
		t.Fatal(err)
	}
	st := m.State()
	if st.PC != 2 {
		t.Fatalf("pc %d", st.PC)
	}

	// Restore into a fresh machine and finish the tick there.
	m2, err := NewMachine(d, vars.NewCache("npc-1", registry, d.Namespaces), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Restore(st); err != nil {
		t.Fatal(err)
	}
	r, err := m2.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := kinds(r.Actions); len(got) != 1 || got[0] != "Flee" {
		t.Fatalf("actions %v", got)
	}
}

func TestTickLoopedEmitPayloads(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.5)
	d := &Document{
		Name:        "pulser",
		ActionKinds: []string{"Pulse"},
		Registers:   4,
		Program: []Instr{
			{Op: OpConst, Dst: 1, Imm: 1},
			{Op: OpConst, Dst: 2, Imm: 3},
			{Op: OpAdd, Dst: 0, Src: 0, Src2: 1},
			{Op: OpEmit, Kind: "Pulse", Args: []int{0}},
			{Op: OpLt, Dst: 3, Src: 0, Src2: 2},
			{Op: OpBranch, Src: 3, Target: 2},
			{Op: OpHalt},
		},
	}
	if err := d.Compile(registry); err != nil {
		t.Fatal(err)
	}

	m, err := NewMachine(d, vars.NewCache("npc-1", registry, d.Namespaces), nil)
	if err != nil {
		t.Fatal(err)
	}

	// A loop that re-executes one emit within a tick must not clobber
	// earlier emissions' payloads.
	r, err := m.Tick(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Actions) != 3 {
		t.Fatalf("actions %v", kinds(r.Actions))
	}
	for i, a := range r.Actions {
		if len(a.Values) != 1 || a.Values[0] != float64(i+1) {
			t.Fatalf("action %d values %v", i, a.Values)
		}
	}
}

func TestTickNoSteadyStateAllocation(t *testing.T) {
	ctx := context.Background()

	registry := testRegistry(t, 0.9)
	d := fleeDoc(t, registry)

	cache := vars.NewCache("npc-1", registry, d.Namespaces)
	m, err := NewMachine(d, cache, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Warm the variable cache.
	if _, err := m.Tick(ctx, 0); err != nil {
		t.Fatal(err)
	}

	allocs := testing.AllocsPerRun(100, func() {
		if _, err := m.Tick(ctx, 0); err != nil {
			t.Fatal(err)
		}
	})
	if allocs > 0 {
		t.Fatalf("%v allocs per steady-state tick", allocs)
	}
}

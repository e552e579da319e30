package plan

import (
	"math"
	"reflect"
	"testing"
)

func haveFood() Facts { return Facts{"have(food)": true} }

func pantry() []Action {
	return []Action{
		{
			Name: "Forage",
			Cost: 2,
			Eff:  Facts{"have(food)": true},
		},
		{
			Name: "Buy",
			Cost: 5,
			Pre:  Facts{"have(currency)": true},
			Eff:  Facts{"have(food)": true},
		},
	}
}

func TestForageBeatsBuy(t *testing.T) {
	p, err := Find(Request{
		State:   Facts{"have(currency)": true},
		Goal:    haveFood(),
		Actions: pantry(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Names(); !reflect.DeepEqual(got, []string{"Forage"}) {
		t.Fatalf("plan %v", got)
	}
	if p.Cost != 2 {
		t.Fatalf("cost %v", p.Cost)
	}
}

func TestMultiStep(t *testing.T) {
	actions := []Action{
		{
			Name: "ChopWood",
			Cost: 3,
			Pre:  Facts{"have(axe)": true},
			Eff:  Facts{"have(wood)": true},
		},
		{
			Name: "BuyAxe",
			Cost: 2,
			Pre:  Facts{"have(currency)": true},
			Eff:  Facts{"have(axe)": true},
		},
		{
			Name: "GatherSticks",
			Cost: 6,
			Eff:  Facts{"have(wood)": true},
		},
	}

	p, err := Find(Request{
		State:   Facts{"have(currency)": true},
		Goal:    Facts{"have(wood)": true},
		Actions: actions,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"BuyAxe", "ChopWood"}
	if got := p.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan %v, want %v", got, want)
	}
	if p.Cost != 5 {
		t.Fatalf("cost %v", p.Cost)
	}
}

func TestNoPlan(t *testing.T) {
	_, err := Find(Request{
		State: Facts{},
		Goal:  haveFood(),
		Actions: []Action{
			{
				Name: "Buy",
				Cost: 5,
				Pre:  Facts{"have(currency)": true},
				Eff:  Facts{"have(food)": true},
			},
		},
	})
	if err != ErrNoPlan {
		t.Fatalf("err %v", err)
	}
}

func TestDeterminism(t *testing.T) {
	req := Request{
		State:   Facts{"have(currency)": true},
		Goal:    Facts{"have(food)": true, "rested": true},
		Actions: append(pantry(), Action{Name: "Nap", Cost: 1, Eff: Facts{"rested": true}}),
	}

	first, err := Find(req)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Find(req)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: %v != %v", i, again.Names(), first.Names())
		}
	}
}

func TestEqualCostTieBreak(t *testing.T) {
	// Two single-action plans with identical cost: the one listed
	// first in the library must win.
	actions := []Action{
		{Name: "DoorA", Cost: 3, Eff: Facts{"inside": true}},
		{Name: "DoorB", Cost: 3, Eff: Facts{"inside": true}},
	}
	p, err := Find(Request{
		State:   Facts{},
		Goal:    Facts{"inside": true},
		Actions: actions,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Names(); !reflect.DeepEqual(got, []string{"DoorA"}) {
		t.Fatalf("plan %v", got)
	}
}

// exhaustive enumerates every action sequence up to maxDepth and
// returns the minimum cost of a satisfying sequence.
func exhaustive(state Facts, goal Facts, lib []Action, maxDepth int) float64 {
	best := math.Inf(1)
	var walk func(s Facts, cost float64, depth int)
	walk = func(s Facts, cost float64, depth int) {
		if s.Satisfies(goal) {
			if cost < best {
				best = cost
			}
			return
		}
		if depth == maxDepth {
			return
		}
		for i := range lib {
			a := &lib[i]
			if !a.applicable(s) {
				continue
			}
			walk(a.apply(s), cost+a.Cost, depth+1)
		}
	}
	walk(state, 0, 0)
	return best
}

func TestOptimality(t *testing.T) {
	lib := []Action{
		{Name: "A", Cost: 1, Eff: Facts{"x": true}},
		{Name: "B", Cost: 2, Pre: Facts{"x": true}, Eff: Facts{"y": true}},
		{Name: "C", Cost: 7, Eff: Facts{"y": true}},
		{Name: "D", Cost: 1, Pre: Facts{"y": true}, Eff: Facts{"z": true}},
		{Name: "E", Cost: 9, Eff: Facts{"z": true}},
	}
	goals := []Facts{
		{"x": true},
		{"y": true},
		{"z": true},
		{"y": true, "z": true},
	}
	for _, goal := range goals {
		p, err := Find(Request{State: Facts{}, Goal: goal, Actions: lib})
		if err != nil {
			t.Fatalf("goal %v: %v", goal, err)
		}
		want := exhaustive(Facts{}, goal, lib, 6)
		if p.Cost != want {
			t.Fatalf("goal %v: cost %v, exhaustive %v (plan %v)",
				goal, p.Cost, want, p.Names())
		}
	}
}

func TestBudget(t *testing.T) {
	// An unsatisfiable goal with a self-feeding library would search
	// a large space; the budget has to cut it off.
	lib := []Action{
		{Name: "Inc", Cost: 1, Eff: Facts{"n": true}},
		{Name: "Dec", Cost: 1, Eff: Facts{"n": false}},
	}
	_, err := Find(Request{
		State:   Facts{},
		Goal:    Facts{"unreachable": true},
		Actions: lib,
		Budget:  2,
	})
	// The closed set makes this tiny space exhaust before the
	// budget; either failure is acceptable, but it must fail.
	if err != ErrNoPlan && err != ErrBudget {
		t.Fatalf("err %v", err)
	}
}

func TestInadmissibleHeuristicTerminates(t *testing.T) {
	lib := pantry()
	_, err := Find(Request{
		State:   Facts{"have(currency)": true},
		Goal:    Facts{"have(gold)": true}, // unreachable
		Actions: lib,
		Budget:  5,
		Heuristic: func(state, goal Facts) float64 {
			return 1e9 // wildly overestimating
		},
	})
	if err != ErrNoPlan && err != ErrBudget {
		t.Fatalf("err %v", err)
	}
}

func TestValidate(t *testing.T) {
	bad := []Request{
		{Actions: []Action{{Name: "", Cost: 1, Eff: Facts{"x": true}}}},
		{Actions: []Action{{Name: "Free", Cost: 0, Eff: Facts{"x": true}}}},
		{Actions: []Action{{Name: "Noop", Cost: 1}}},
	}
	for i, req := range bad {
		if _, err := Find(req); err == nil {
			t.Fatalf("request %d: no error", i)
		}
	}
}

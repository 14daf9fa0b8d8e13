// cmd/taylorjet-demo — compiles a couple of toy ODE systems and prints
// their jets.
//
// Run: go run ./cmd/taylorjet-demo
package main

import (
	"fmt"

	"github.com/njchilds90/taylorjet/compiler"
	"github.com/njchilds90/taylorjet/decompose"
	"github.com/njchilds90/taylorjet/examples/nbody"
	"github.com/njchilds90/taylorjet/expr"
	"github.com/njchilds90/taylorjet/funcreg"
)

func section(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

func printTape(jet *compiler.CompiledJet, tape []float64) {
	for order := 0; order <= jet.Order; order++ {
		row := tape[order*jet.NTape*jet.Batch : order*jet.NTape*jet.Batch+jet.NStates*jet.Batch]
		fmt.Printf("  order %d: %v\n", order, row)
	}
}

func main() {
	section("Linear system: dot x = 6, dot y = x + y")
	x, y := expr.Var("x"), expr.Var("y")
	states := []decompose.State{
		{Name: "x", RHS: expr.Int(6)},
		{Name: "y", RHS: expr.AddE(x, y)},
	}
	jet, err := compiler.Compile(states, compiler.Options{Symbol: "linear", Order: 2, Batch: 1})
	if err != nil {
		fmt.Println("compile error:", err)
		return
	}
	tape := jet.NewTape()
	if err := jet.SeedStates(tape, []float64{2, 3}); err != nil {
		fmt.Println("seed error:", err)
		return
	}
	jet.Fn(tape, make([]float64, 1), []float64{0})
	printTape(jet, tape)

	section("Harmonic oscillator: dot x = 2y, dot y = -4x")
	hx, hy := expr.Var("x"), expr.Var("y")
	hoStates := []decompose.State{
		{Name: "x", RHS: expr.MulE(expr.Int(2), hy)},
		{Name: "y", RHS: expr.MulE(expr.Int(-4), hx)},
	}
	hoJet, err := compiler.Compile(hoStates, compiler.Options{Symbol: "oscillator", Order: 3, Batch: 1})
	if err != nil {
		fmt.Println("compile error:", err)
		return
	}
	hoTape := hoJet.NewTape()
	if err := hoJet.SeedStates(hoTape, []float64{1, 0}); err != nil {
		fmt.Println("seed error:", err)
		return
	}
	hoJet.Fn(hoTape, make([]float64, 1), []float64{0})
	printTape(hoJet, hoTape)

	section("Restricted two-body system")
	nbodyStates, err := nbody.Build(1.0, []float64{1.0, 0.001})
	if err != nil {
		fmt.Println("nbody build error:", err)
		return
	}
	registry := funcreg.NewRegistry()
	prog, err := decompose.Decompose(nbodyStates, registry)
	if err != nil {
		fmt.Println("decompose error:", err)
		return
	}
	fmt.Printf("  states: %v\n", prog.StateNames())
	for shape, idxs := range prog.GroupsByShape() {
		fmt.Printf("  shape %-16s %d node(s)\n", shape, len(idxs))
	}

	nbodyJet, err := compiler.Compile(nbodyStates, compiler.Options{Symbol: "twobody", Order: 2, Batch: 1, Registry: registry})
	if err != nil {
		fmt.Println("compile error:", err)
		return
	}
	fmt.Printf("  compiled %d states into %d tape entries\n", nbodyJet.NStates, nbodyJet.NTape)
}

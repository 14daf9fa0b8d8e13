// Package taylorjet provides shared error kinds for the Taylor-jet JIT
// compiler: a pipeline that turns a symbolic system of ODEs into a compiled
// routine advancing the state by one adaptive step using high-order Taylor
// series.
//
// The pipeline lives in sub-packages: expr (expression algebra), funcreg
// (math function registry), decompose (Taylor decomposition), ir/codegen/
// refbackend (code generation), compiler (orchestration), and stepper (the
// adaptive step controller).
package taylorjet

// Package compiler provides a single-pass compiler for the class-based SL
// language that targets the textual stack-machine instruction set.
//
// Pipeline: SL source → Lexer → Engine (parse and emit in one pass) → VM text
//
// The Engine keeps one symbol table for the class scope and one for the
// current subroutine, and writes instructions through an Emitter as soon as
// each grammar production is recognised.
package compiler

// Package sandbox runs model-written analysis code against an attached table.
//
// Code is interpreted with yaegi, so nothing is compiled or written to disk.
// Only a small allow-list of stdlib packages may be imported (no os, net,
// os/exec, syscall or unsafe), and the code sees nothing but the table it is
// handed. The code must define:
//
//	func Analyze(columns []string, rows [][]string) (string, error)
//
// The returned string is the analysis output (text, a table or an ASCII chart).
package sandbox

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/mikeboe/research-chat/pkg/ingest"
)

// MaxOutput caps the text kept from one run.
const MaxOutput = 16 << 10

// Yaegi executes analysis code in a fresh interpreter per run.
type Yaegi struct {
	allowedPackages map[string]bool
}

func NewYaegi() *Yaegi {
	return &Yaegi{
		allowedPackages: map[string]bool{
			"fmt":     true,
			"strings": true,
			"strconv": true,
			"math":    true,
			"sort":    true,
			"errors":  true,
			"bytes":   true,
			"time":    true,
			"unicode": true,
		},
	}
}

// Run evaluates code and calls its Analyze function with the table.
// Runaway code is abandoned when ctx is done; the interpreter goroutine is not
// forcibly stopped.
func (y *Yaegi) Run(ctx context.Context, code string, table *ingest.Table) (string, error) {
	if table == nil {
		return "", fmt.Errorf("no table attached")
	}

	src := wrapCode(code)
	if err := y.validateImports(src); err != nil {
		return "", err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("failed to load stdlib: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return "", fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := i.Eval("main.Analyze")
	if err != nil {
		return "", fmt.Errorf("Analyze function not found: %w", err)
	}
	analyze, ok := v.Interface().(func([]string, [][]string) (string, error))
	if !ok {
		return "", fmt.Errorf("Analyze has incorrect signature (expected: func([]string, [][]string) (string, error))")
	}

	columns, rows := copyTable(table)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("analysis panicked: %v", r)}
			}
		}()
		out, err := analyze(columns, rows)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("analysis failed: %w", r.err)
		}
		if len(r.out) > MaxOutput {
			r.out = r.out[:MaxOutput] + "\n... (output truncated)"
		}
		return r.out, nil
	case <-ctx.Done():
		return "", fmt.Errorf("analysis timed out: %w", ctx.Err())
	}
}

// validateImports parses the import block and rejects anything off the allow-list.
func (y *Yaegi) validateImports(src string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "analysis.go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("invalid code: %w", err)
	}

	var forbidden []string
	for _, imp := range f.Imports {
		pkg, _ := strconv.Unquote(imp.Path.Value)
		if !y.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v (allowed: %s)", forbidden, strings.Join(y.allowed(), ", "))
	}
	return nil
}

func (y *Yaegi) allowed() []string {
	pkgs := make([]string, 0, len(y.allowedPackages))
	for p := range y.allowedPackages {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)
	return pkgs
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// copyTable hands the interpreter its own copy so analysis code cannot mutate
// the attached table.
func copyTable(t *ingest.Table) ([]string, [][]string) {
	columns := append([]string(nil), t.Columns...)
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = append([]string(nil), r...)
	}
	return columns, rows
}

// Package mangle wraps the Google Mangle engine for policy evaluation.
// A Program is analysed once and is immutable; every Evaluate call runs
// against its own fresh fact store, so one Program serves concurrent callers.
package mangle

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact represents a single fact handed to or derived by a program.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
}

// String returns the Datalog representation of the fact.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// Program is an analysed Mangle program.
type Program struct {
	info           *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
}

// Compile parses and analyses program source.
func Compile(source string) (*Program, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse program")
	}

	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to analyze program")
	}

	p := &Program{
		info:           info,
		predicateIndex: make(map[string]ast.PredicateSym, len(info.Decls)),
	}
	for sym := range info.Decls {
		p.predicateIndex[sym.Symbol] = sym
	}
	return p, nil
}

// Declared reports whether a predicate is declared by the program.
func (p *Program) Declared(predicate string) bool {
	_, ok := p.predicateIndex[predicate]
	return ok
}

// Result holds the fixpoint of one evaluation.
type Result struct {
	program *Program
	store   factstore.FactStore
}

// Evaluate loads facts into a fresh store and runs the program to fixpoint.
func (p *Program) Evaluate(facts []Fact) (*Result, error) {
	store := factstore.NewSimpleInMemoryStore()
	for _, fact := range facts {
		atom, err := p.factToAtom(fact)
		if err != nil {
			return nil, err
		}
		store.Add(atom)
	}

	if _, err := mengine.EvalProgramWithStats(p.info, store); err != nil {
		return nil, errors.Wrap(err, "evaluation failed")
	}
	return &Result{program: p, store: store}, nil
}

// Facts returns every fact of a predicate, derived or given.
func (r *Result) Facts(predicate string) ([]Fact, error) {
	sym, ok := r.program.predicateIndex[predicate]
	if !ok {
		return nil, errors.Newf("predicate %s is not declared", predicate)
	}

	var results []Fact
	err := r.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = convertBaseTermToInterface(arg)
		}
		results = append(results, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return results, err
}

func (p *Program) factToAtom(fact Fact) (ast.Atom, error) {
	sym, ok := p.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, errors.Newf("predicate %s is not declared", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, errors.Newf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := convertValueToBaseTerm(raw)
		if err != nil {
			return ast.Atom{}, errors.Wrapf(err, "predicate %s arg %d", fact.Predicate, i)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

// convertValueToBaseTerm maps Go values to constants. Strings starting with
// "/" become name constants.
func convertValueToBaseTerm(value interface{}) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "/") && !strings.ContainsAny(v, " \t\n") {
			return ast.Name(v)
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, errors.Newf("unsupported fact argument type %T", value)
	}
}

func convertBaseTermToInterface(term ast.BaseTerm) interface{} {
	switch v := term.(type) {
	case ast.Constant:
		return constantToInterface(v)
	case ast.Variable:
		return v.Symbol
	default:
		return fmt.Sprintf("%v", term)
	}
}

func constantToInterface(constant ast.Constant) interface{} {
	switch constant.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return constant.Symbol
	case ast.NumberType:
		return constant.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(constant.NumValue))
	default:
		return constant.String()
	}
}

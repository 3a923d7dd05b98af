// Package policy evaluates file access policies against a caller's attributes.
//
// A policy is an AND of clauses, each clause an OR of category:value tokens:
//
//	(role:manager OR role:admin) AND dept:IT AND clearance:high
//
// The operators are the literal upper-case words AND and OR; any other
// spelling is part of a token. Token matching is case-insensitive and treats
// the department and dept categories as the same category. Evaluation is pure and total: malformed or empty
// policies are never satisfied.
package policy

import (
	"errors"
	"strings"

	pkgstrings "keygate/pkg/platform/strings"
)

var (
	ErrEmptyPolicy     = errors.New("policy is empty")
	ErrUnbalanced      = errors.New("unbalanced parentheses")
	ErrNestedGroup     = errors.New("nested groups are not supported")
	ErrEmptyClause     = errors.New("empty clause")
	ErrMalformedToken  = errors.New("token must have the form category:value")
	ErrDanglingOperand = errors.New("operator without operand")
)

const (
	opAnd = "AND"
	opOr  = "OR"
)

// Expr is a parsed policy.
type Expr struct {
	clauses []clause
}

type clause struct {
	text   string
	tokens []string
}

// Result explains an evaluation. FailedClause is the policy's own text for
// the first unsatisfied clause; it never includes the caller's attributes.
type Result struct {
	Satisfied    bool
	FailedClause string
	ClauseIndex  int
	Malformed    bool
	ParseError   string
}

// Parse compiles a policy string.
func Parse(policy string) (*Expr, error) {
	fields := strings.Fields(policy)
	if len(fields) == 0 {
		return nil, ErrEmptyPolicy
	}

	var (
		clauses [][]string
		current []string
		depth   int
	)
	for _, f := range fields {
		if depth == 0 && f == opAnd {
			if len(current) == 0 {
				return nil, ErrDanglingOperand
			}
			clauses = append(clauses, current)
			current = nil
			continue
		}
		depth += strings.Count(f, "(") - strings.Count(f, ")")
		if depth < 0 {
			return nil, ErrUnbalanced
		}
		current = append(current, f)
	}
	if depth != 0 {
		return nil, ErrUnbalanced
	}
	if len(current) == 0 {
		return nil, ErrDanglingOperand
	}
	clauses = append(clauses, current)

	expr := &Expr{clauses: make([]clause, 0, len(clauses))}
	for _, words := range clauses {
		c, err := parseClause(words)
		if err != nil {
			return nil, err
		}
		expr.clauses = append(expr.clauses, c)
	}
	return expr, nil
}

func parseClause(words []string) (clause, error) {
	text := strings.Join(words, " ")
	inner := text
	if strings.HasPrefix(inner, "(") && strings.HasSuffix(inner, ")") {
		inner = strings.TrimSpace(inner[1 : len(inner)-1])
	}
	if strings.ContainsAny(inner, "()") {
		return clause{}, ErrNestedGroup
	}
	if inner == "" {
		return clause{}, ErrEmptyClause
	}

	c := clause{text: text}
	var alt []string
	flush := func() error {
		if len(alt) == 0 {
			return ErrDanglingOperand
		}
		tok, ok := normalizeToken(strings.Join(alt, " "))
		if !ok {
			return ErrMalformedToken
		}
		c.tokens = append(c.tokens, tok)
		alt = nil
		return nil
	}
	for _, w := range strings.Fields(inner) {
		if w == opOr {
			if err := flush(); err != nil {
				return clause{}, err
			}
			continue
		}
		if w == opAnd {
			return clause{}, ErrNestedGroup
		}
		alt = append(alt, w)
	}
	if err := flush(); err != nil {
		return clause{}, err
	}
	return c, nil
}

// Evaluate reports whether attrs satisfy the policy.
func (e *Expr) Evaluate(attrs AttributeSet) Result {
	for i, c := range e.clauses {
		if !c.satisfiedBy(attrs) {
			return Result{FailedClause: c.text, ClauseIndex: i}
		}
	}
	return Result{Satisfied: true, ClauseIndex: -1}
}

func (c clause) satisfiedBy(attrs AttributeSet) bool {
	for _, tok := range c.tokens {
		if attrs.Contains(tok) {
			return true
		}
	}
	return false
}

// Categories returns the distinct categories the policy references, in order
// of first appearance.
func (e *Expr) Categories() []string {
	var cats []string
	for _, c := range e.clauses {
		for _, tok := range c.tokens {
			cat, _, _ := strings.Cut(tok, ":")
			cats = append(cats, cat)
		}
	}
	return pkgstrings.DedupeAndTrimLower(cats)
}

// Evaluate parses and evaluates policy. It never panics and fails closed.
func Evaluate(policy string, attrs AttributeSet) bool {
	return Explain(policy, attrs).Satisfied
}

// Explain is Evaluate with the failing clause and parse error reported.
func Explain(policy string, attrs AttributeSet) Result {
	expr, err := Parse(policy)
	if err != nil {
		return Result{Malformed: true, ParseError: err.Error(), ClauseIndex: -1}
	}
	return expr.Evaluate(attrs)
}

// RequiredCategories lists the attribute categories a policy references.
// Malformed policies reference nothing.
func RequiredCategories(policy string) []string {
	expr, err := Parse(policy)
	if err != nil {
		return nil
	}
	return expr.Categories()
}

package policy

import (
	"sort"
	"strings"
)

// Attribute categories.
const (
	CategoryRole       = "role"
	CategoryDepartment = "department"
	CategoryClearance  = "clearance"
)

// categorySynonyms maps accepted spellings to the canonical category.
var categorySynonyms = map[string]string{
	"dept": CategoryDepartment,
}

// Subject is the caller's attributes as vouched for by the account service.
type Subject struct {
	Role       string
	Department string
	Clearance  string
}

// AttributeSet is a normalized set of category:value tokens. The zero value
// is an empty set.
type AttributeSet struct {
	tokens map[string]struct{}
}

// AttributesFor derives the attribute set for a subject. Empty fields
// contribute no token.
func AttributesFor(s Subject) AttributeSet {
	return NewAttributeSet(
		CategoryRole+":"+s.Role,
		CategoryDepartment+":"+s.Department,
		CategoryClearance+":"+s.Clearance,
	)
}

// NewAttributeSet normalizes free-form tokens. Malformed tokens are dropped.
func NewAttributeSet(tokens ...string) AttributeSet {
	set := AttributeSet{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		if norm, ok := normalizeToken(t); ok {
			set.tokens[norm] = struct{}{}
		}
	}
	return set
}

func (a AttributeSet) Contains(token string) bool {
	norm, ok := normalizeToken(token)
	if !ok {
		return false
	}
	_, found := a.tokens[norm]
	return found
}

func (a AttributeSet) Len() int { return len(a.tokens) }

// Tokens returns the normalized tokens, sorted.
func (a AttributeSet) Tokens() []string {
	out := make([]string, 0, len(a.tokens))
	for t := range a.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// normalizeToken lower-cases, trims both halves and resolves category synonyms.
func normalizeToken(raw string) (string, bool) {
	cat, val, ok := strings.Cut(raw, ":")
	if !ok {
		return "", false
	}
	cat = strings.ToLower(strings.TrimSpace(cat))
	val = strings.ToLower(strings.TrimSpace(val))
	if cat == "" || val == "" {
		return "", false
	}
	if canon, ok := categorySynonyms[cat]; ok {
		cat = canon
	}
	return cat + ":" + val, true
}

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = "(role:manager OR role:admin) AND dept:IT AND clearance:high"

func TestEvaluate_SamplePolicies(t *testing.T) {
	t.Run("admin in IT with high clearance is granted", func(t *testing.T) {
		attrs := NewAttributeSet("role:admin", "dept:IT", "clearance:high")
		assert.True(t, Evaluate(samplePolicy, attrs))
	})

	t.Run("worker is denied on the role clause", func(t *testing.T) {
		attrs := NewAttributeSet("role:worker", "dept:IT", "clearance:high")
		res := Explain(samplePolicy, attrs)
		assert.False(t, res.Satisfied)
		assert.Equal(t, 0, res.ClauseIndex)
		assert.Equal(t, "(role:manager OR role:admin)", res.FailedClause)
	})

	t.Run("failed clause names policy text only", func(t *testing.T) {
		attrs := NewAttributeSet("role:admin", "dept:HR", "clearance:high")
		res := Explain(samplePolicy, attrs)
		assert.Equal(t, "dept:IT", res.FailedClause)
		assert.NotContains(t, res.FailedClause, "hr")
	})
}

func TestEvaluate_DepartmentSynonym(t *testing.T) {
	cases := []struct {
		name   string
		policy string
		attrs  AttributeSet
	}{
		{"department in policy, dept in attrs", "department:Finance", NewAttributeSet("dept:finance")},
		{"dept in policy, department in attrs", "dept:Finance", NewAttributeSet("department:FINANCE")},
		{"subject department field", "(dept:finance)", AttributesFor(Subject{Department: "Finance"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, Evaluate(tc.policy, tc.attrs))
		})
	}
}

func TestEvaluate_Normalization(t *testing.T) {
	attrs := AttributesFor(Subject{Role: " Manager ", Department: "IT", Clearance: "HIGH"})
	assert.True(t, Evaluate("ROLE:manager AND Dept: it AND clearance:High", attrs))
	assert.True(t, Evaluate("  (role:admin   OR  role:MANAGER)  ", attrs))
}

func TestEvaluate_OperatorsAreUpperCaseOnly(t *testing.T) {
	admin := NewAttributeSet("role:admin", "dept:IT", "clearance:high")

	t.Run("lower-case or is part of the token", func(t *testing.T) {
		assert.False(t, Evaluate("role:admin or role:manager", admin))
	})

	t.Run("lower-case and is part of the token", func(t *testing.T) {
		assert.False(t, Evaluate("role:admin and dept:IT", admin))
	})

	t.Run("values may contain and/or words", func(t *testing.T) {
		rnd := NewAttributeSet("dept:R and D", "role:engineer")
		assert.True(t, Evaluate("dept:R and D", rnd))
		assert.True(t, Evaluate("(dept:R and D OR dept:ops) AND role:engineer", rnd))
		assert.False(t, Evaluate("dept:R and D", NewAttributeSet("dept:R")))
	})
}

func TestEvaluate_FailsClosed(t *testing.T) {
	attrs := NewAttributeSet("role:admin", "dept:it", "clearance:high")
	malformed := []string{
		"",
		"   ",
		"role:admin AND",
		"AND role:admin",
		"(role:admin",
		"role:admin)",
		"((role:admin))",
		"(role:admin OR (dept:it AND clearance:high))",
		"role:admin OR",
		"admin",
		"role:",
		":admin",
		"() AND role:admin",
		"(role:admin OR role:x) OR dept:it",
	}
	for _, p := range malformed {
		t.Run(p, func(t *testing.T) {
			res := Explain(p, attrs)
			assert.False(t, res.Satisfied)
			assert.True(t, res.Malformed)
			assert.NotEmpty(t, res.ParseError)
		})
	}
}

func TestEvaluate_EmptyAttributesNeverSatisfy(t *testing.T) {
	assert.False(t, Evaluate("role:admin", AttributeSet{}))
	assert.False(t, Evaluate(samplePolicy, AttributesFor(Subject{})))
}

func TestRequiredCategories(t *testing.T) {
	assert.Equal(t, []string{"role", "department", "clearance"}, RequiredCategories(samplePolicy))
	assert.Equal(t, []string{"department"}, RequiredCategories("dept:it OR department:hr"))
	assert.Nil(t, RequiredCategories("(broken"))
}

func TestAttributeSet(t *testing.T) {
	set := NewAttributeSet("Role:Admin", "garbage", "dept:IT", "role:admin")
	require.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"department:it", "role:admin"}, set.Tokens())
	assert.True(t, set.Contains("DEPT:it"))
	assert.False(t, set.Contains("dept"))
}

func TestParse_ReusableExpression(t *testing.T) {
	expr, err := Parse(samplePolicy)
	require.NoError(t, err)

	assert.True(t, expr.Evaluate(NewAttributeSet("role:manager", "dept:it", "clearance:high")).Satisfied)
	assert.False(t, expr.Evaluate(NewAttributeSet("role:manager", "dept:it", "clearance:low")).Satisfied)
}

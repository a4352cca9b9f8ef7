package jsonrepair

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRepairSteps проверяет каждый шаг починки отдельно.
func TestRepairSteps(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare keys", input: `{message: "hi", 1yr: 4}`, want: `{"message": "hi", "1yr": 4}`},
		{name: "trailing comma object", input: `{"a": 1,}`, want: `{"a": 1}`},
		{name: "trailing comma array", input: `{"a": [1, 2, ]}`, want: `{"a": [1, 2 ]}`},
		{name: "single quotes", input: `{'a': 'b "c"'}`, want: `{"a": "b \"c\""}`},
		{name: "apostrophe inside single quotes", input: `{'a': 'it's'}`, want: `{"a": "it's"}`},
		{name: "newlines and tabs", input: "{\"a\":\n\t1}", want: `{"a":  1}`},
		{name: "percent signs", input: `{"min": 3.5%, "max": 5 %}`, want: `{"min": 3.5, "max": 5}`},
		{name: "unbalanced", input: `{"a": {"b": [1`, want: `{"a": {"b": [1]}}`},
		{name: "unterminated string", input: `{"a": "abc`, want: `{"a": "abc"}`},
		{name: "dangling comma after balance", input: `{"a": 1,`, want: `{"a": 1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Repair(tc.input))
		})
	}
}

// TestRepairLeavesStringsAlone проверяет, что содержимое строк не меняется.
func TestRepairLeavesStringsAlone(t *testing.T) {
	input := `{"note": "grow 5% a year, key: value, [x,]", "apostrophe": "it's"}`
	assert.Equal(t, input, Repair(input))
}

// TestRepairIdempotent проверяет, что повторная починка не меняет результат.
func TestRepairIdempotent(t *testing.T) {
	inputs := []string{
		`{"message": "hi", "suggestions": [],}`,
		"{projectedGrowth: {1yr: 4.5%, 5yr: 18.2%},\n notes: 'It's fine',}",
		`{"a": [1, {"b": 'x'`,
		`{'a': "b", c: [1,,]}`,
		`{"a": "unterminated \`,
		`{"a": [1}`,
		`plain text without json`,
		"",
	}

	for _, input := range inputs {
		once := Repair(input)
		twice := Repair(once)
		assert.Equal(t, once, twice, "input: %q", input)
	}
}

// TestStepNames проверяет порядок шагов.
func TestStepNames(t *testing.T) {
	assert.Equal(t, []string{"whitespace", "single_quotes", "bare_keys", "percent_signs", "balance", "trailing_commas"}, StepNames())
}

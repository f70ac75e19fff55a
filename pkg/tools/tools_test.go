package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/tools"
)

func TestArithmetic(t *testing.T) {
	r := tools.NewArithmeticRegistry()
	ctx := context.Background()

	tests := []struct {
		name string
		args string
		want string
	}{
		{"add", `{"a": 2, "b": 3}`, "5"},
		{"add", `{"a": 0.1, "b": 0.2}`, "0.30000000000000004"},
		{"subtract", `{"a": 2, "b": 3.5}`, "-1.5"},
		{"multiply", `{"a": 6, "b": 7}`, "42"},
		{"divide", `{"a": 7, "b": 2}`, "3.5"},
		{"minimum", `{"nums": [3, -1, 2]}`, "-1"},
		{"maximum", `{"nums": [3, -1, 2]}`, "3"},
		{"average", `{"nums": [1, 2, 3, 4]}`, "2.5"},
		{"average", `{"nums": [5]}`, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name+tt.args, func(t *testing.T) {
			got, err := r.Call(ctx, tt.name, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArithmetic_Failures(t *testing.T) {
	r := tools.NewArithmeticRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr error
	}{
		{"division by zero", "divide", `{"a": 1, "b": 0}`, types.ErrDivisionByZero},
		{"empty minimum", "minimum", `{"nums": []}`, types.ErrEmptyInput},
		{"empty maximum", "maximum", `{}`, types.ErrEmptyInput},
		{"empty average", "average", `{"nums": []}`, types.ErrEmptyInput},
		{"unknown tool", "sqrt", `{"a": 4}`, types.ErrUnknownTool},
		{"malformed json", "add", `{"a": 1,`, types.ErrToolExecution},
		{"missing operand", "add", `{"a": 1}`, types.ErrToolExecution},
		{"wrong type", "add", `{"a": "one", "b": 2}`, types.ErrToolExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Call(ctx, tt.tool, tt.args)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, types.ErrToolExecution)
		})
	}
}

func TestDefinitions(t *testing.T) {
	r := tools.NewArithmeticRegistry()

	defs := r.Definitions()
	require.Len(t, defs, 7)

	var names []string
	for _, d := range defs {
		assert.Equal(t, "function", d.Type)
		require.NotNil(t, d.Function)
		assert.NotEmpty(t, d.Function.Description)
		assert.NotNil(t, d.Function.Parameters)
		names = append(names, d.Function.Name)
	}
	assert.Equal(t, []string{"add", "average", "divide", "maximum", "minimum", "multiply", "subtract"}, names)
	assert.Equal(t, names, r.Names())
}

func TestRegister_Duplicate(t *testing.T) {
	r := tools.NewArithmeticRegistry()
	err := r.Register(tools.Arithmetic()[0])
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	err = r.Register(tools.Tool{Name: "noop"})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

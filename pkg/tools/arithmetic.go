package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xhad/askdoc/internal/types"
)

var binarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number", "description": "first operand"},
		"b": map[string]any{"type": "number", "description": "second operand"},
	},
	"required": []string{"a", "b"},
}

var listSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"nums": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "number"},
			"description": "list of numbers",
		},
	},
	"required": []string{"nums"},
}

type binaryArgs struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
}

type listArgs struct {
	Nums []float64 `json:"nums"`
}

func binary(name, description string, fn func(a, b float64) (float64, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  binarySchema,
		Call: func(_ context.Context, raw json.RawMessage) (string, error) {
			var args binaryArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: %s: %v", types.ErrToolExecution, name, err)
			}
			if args.A == nil || args.B == nil {
				return "", fmt.Errorf("%w: %s: arguments a and b are required", types.ErrToolExecution, name)
			}
			v, err := fn(*args.A, *args.B)
			if err != nil {
				return "", err
			}
			return formatNumber(v), nil
		},
	}
}

func aggregate(name, description string, fn func(nums []float64) float64) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  listSchema,
		Call: func(_ context.Context, raw json.RawMessage) (string, error) {
			var args listArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: %s: %v", types.ErrToolExecution, name, err)
			}
			if len(args.Nums) == 0 {
				return "", fmt.Errorf("%w: %s needs at least one number", types.ErrEmptyInput, name)
			}
			return formatNumber(fn(args.Nums)), nil
		},
	}
}

// Arithmetic returns the basic calculator tools.
func Arithmetic() []Tool {
	return []Tool{
		binary("add", "Add two numbers: a + b.", func(a, b float64) (float64, error) {
			return a + b, nil
		}),
		binary("subtract", "Subtract b from a: a - b.", func(a, b float64) (float64, error) {
			return a - b, nil
		}),
		binary("multiply", "Multiply two numbers: a * b.", func(a, b float64) (float64, error) {
			return a * b, nil
		}),
		binary("divide", "Divide a by b: a / b. b must not be zero.", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("%w: %v / 0", types.ErrDivisionByZero, a)
			}
			return a / b, nil
		}),
		aggregate("minimum", "Return the smallest number of a list.", func(nums []float64) float64 {
			m := nums[0]
			for _, n := range nums[1:] {
				if n < m {
					m = n
				}
			}
			return m
		}),
		aggregate("maximum", "Return the largest number of a list.", func(nums []float64) float64 {
			m := nums[0]
			for _, n := range nums[1:] {
				if n > m {
					m = n
				}
			}
			return m
		}),
		aggregate("average", "Return the arithmetic mean of a list of numbers.", func(nums []float64) float64 {
			var sum float64
			for _, n := range nums {
				sum += n
			}
			return sum / float64(len(nums))
		}),
	}
}

// NewArithmeticRegistry returns a registry holding the Arithmetic tools.
func NewArithmeticRegistry() *Registry {
	r, err := NewRegistry(Arithmetic()...)
	if err != nil {
		panic(err) // names are static and unique
	}
	return r
}

package hclgraph

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// newEvalContext returns the evaluation context shared by all expressions in
// a definition file. It exposes the kb/mb/gb size constants.
func newEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"kb": cty.NumberUIntVal(1 << 10),
			"mb": cty.NumberUIntVal(1 << 20),
			"gb": cty.NumberUIntVal(1 << 30),
		},
	}
}

// exprPresent reports whether an optional expression was actually written
// in the source. gohcl substitutes a synthetic null expression for an
// omitted optional attribute, so null-ness rather than nil-ness marks
// absence.
func exprPresent(expr hcl.Expression, evalCtx *hcl.EvalContext) bool {
	if expr == nil {
		return false
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return true
	}
	return !val.IsNull()
}

// evalUint64 evaluates an optional numeric expression. A nil or absent
// expression yields zero.
func evalUint64(expr hcl.Expression, evalCtx *hcl.EvalContext) (uint64, error) {
	if expr == nil {
		return 0, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return 0, diags
	}
	if val.IsNull() {
		return 0, nil
	}
	val, err := convert.Convert(val, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("expected a number: %w", err)
	}
	var out uint64
	if err := gocty.FromCtyValue(val, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// evalUint32 evaluates an expression as a 32-bit unsigned value.
func evalUint32(expr hcl.Expression, evalCtx *hcl.EvalContext) (uint32, error) {
	v, err := evalUint64(expr, evalCtx)
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, fmt.Errorf("value %d does not fit in 32 bits", v)
	}
	return uint32(v), nil
}

// evalDim evaluates an expression as a launch dimension: either a single
// number or a list of up to three numbers. Missing components default to 1,
// and a nil expression yields [1,1,1].
func evalDim(expr hcl.Expression, evalCtx *hcl.EvalContext) ([3]uint32, error) {
	dim := [3]uint32{1, 1, 1}
	if expr == nil {
		return dim, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return dim, diags
	}
	if val.IsNull() {
		return dim, nil
	}

	if val.Type().IsTupleType() || val.Type().IsListType() {
		listVal, err := convert.Convert(val, cty.List(cty.Number))
		if err != nil {
			return dim, fmt.Errorf("expected a list of numbers: %w", err)
		}
		var parts []uint32
		if err := gocty.FromCtyValue(listVal, &parts); err != nil {
			return dim, fmt.Errorf("expected a list of numbers: %w", err)
		}
		if len(parts) == 0 || len(parts) > 3 {
			return dim, fmt.Errorf("dimension list must have 1 to 3 elements, got %d", len(parts))
		}
		copy(dim[:], parts)
		return dim, nil
	}

	var x uint32
	if err := gocty.FromCtyValue(val, &x); err != nil {
		return dim, fmt.Errorf("expected a number or list of numbers: %w", err)
	}
	dim[0] = x
	return dim, nil
}

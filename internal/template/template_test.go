package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_PlainInterpolation(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"name": "Ada"}}
	out, err := Render("Hello {{ $input.name }}!", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", out)
}

func TestRender_SingleExprBlockPreservesType(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"n": int64(41)}}
	out, err := Render("{{ $input.n + 1 }}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out)
}

func TestRender_FilterPipeline(t *testing.T) {
	ctx := map[string]interface{}{
		"input": map[string]interface{}{
			"xs": []interface{}{int64(3), int64(1), int64(2)},
		},
	}
	out, err := Render(`{{ $input.xs | sort | join(",") }}`, ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", out)
}

func TestRender_ForLoop(t *testing.T) {
	ctx := map[string]interface{}{
		"input": map[string]interface{}{
			"us": []interface{}{
				map[string]interface{}{"name": "A"},
				map[string]interface{}{"name": "B"},
			},
		},
	}
	out, err := Render("{% for u in $input.us %}{{ u.name }},{% endfor %}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "A,B,", out)
}

func TestRender_IfBlock(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"active": true}}
	out, err := Render("{% if $input.active %}yes{% endif %}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "yes", out)

	ctx["input"] = map[string]interface{}{"active": false}
	out, err = Render("{% if $input.active %}yes{% endif %}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRender_GracefulModeFallsBackOnParseError(t *testing.T) {
	out, err := Render("value: {{ $input. }}", nil, Options{Mode: ModeGraceful})
	require.NoError(t, err)
	assert.Equal(t, "value: {{ $input. }}", out)
}

func TestRender_StrictModePropagatesParseError(t *testing.T) {
	_, err := Render("value: {{ $input. }}", nil, Options{Mode: ModeStrict})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestRender_UnknownFilterAlwaysErrors(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"n": int64(1)}}
	for _, mode := range []Mode{ModeGraceful, ModeStrict} {
		_, err := Render("{{ $input.n | not_a_real_filter }}", ctx, Options{Mode: mode})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFilter))
	}
}

func TestRender_DeepNestingExceedsLimit(t *testing.T) {
	src := ""
	for i := 0; i < 60; i++ {
		src += "{% if $input.x %}"
	}
	for i := 0; i < 60; i++ {
		src += "{% endif %}"
	}
	ctx := map[string]interface{}{"input": map[string]interface{}{"x": true}}
	_, err := Render(src, ctx, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
}

func TestRender_TemplateSizeLimit(t *testing.T) {
	big := make([]byte, maxTemplateSize+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := Render(string(big), nil, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
}

func TestRender_LoopIterationLimit(t *testing.T) {
	xs := make([]interface{}, maxLoopIterations+1)
	for i := range xs {
		xs[i] = int64(i)
	}
	ctx := map[string]interface{}{"input": map[string]interface{}{"xs": xs}}
	_, err := Render("{% for x in $input.xs %}{{ x }}{% endfor %}", ctx, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
}

func TestProcessMap_RendersStringLeavesOnly(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"name": "Ada"}}
	m := map[string]interface{}{
		"greeting": "Hi {{ $input.name }}",
		"count":    int64(3),
		"nested": map[string]interface{}{
			"list": []interface{}{"{{ $input.name }}", "static"},
		},
	}
	out, err := ProcessMap(m, ctx, Options{})
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, "Hi Ada", result["greeting"])
	assert.Equal(t, int64(3), result["count"])
	nested := result["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	assert.Equal(t, "Ada", list[0])
	assert.Equal(t, "static", list[1])
}

func TestRender_IntegerBracketIndexesList(t *testing.T) {
	ctx := map[string]interface{}{
		"input": map[string]interface{}{
			"xs": []interface{}{"a", "b", "c"},
		},
	}
	out, err := Render("{{ $input.xs[1] }}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", out)
}

func TestRender_IntegerBracketFallsBackToStringKey(t *testing.T) {
	ctx := map[string]interface{}{
		"input": map[string]interface{}{"0": "zero"},
	}
	out, err := Render("{{ $input[0] }}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "zero", out)
}

func TestRender_IntegerBracketOutOfRangeIsNil(t *testing.T) {
	ctx := map[string]interface{}{
		"input": map[string]interface{}{"xs": []interface{}{"a"}},
	}
	out, err := Render("{{ $input.xs[5] }}", ctx, Options{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRender_QuotedBracketKey(t *testing.T) {
	ctx := map[string]interface{}{
		"input": map[string]interface{}{"weird key!": "v1"},
	}
	out, err := Render(`{{ $input["weird key!"] }}`, ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "v1", out)

	out, err = Render(`{{ $input['weird key!'] }}`, ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "v1", out)
}

func TestResolvePath_AtomBracketDoesNotCollideWithStringKey(t *testing.T) {
	m := map[interface{}]interface{}{
		Atom("status"): "atom-value",
		"status":       "string-value",
	}

	atomOut := resolvePath(m, []pathSeg{{kind: segAtom, text: "status"}})
	assert.Equal(t, "atom-value", atomOut)

	dotOut := resolvePath(m, []pathSeg{{kind: segDot, text: "status"}})
	assert.Equal(t, "string-value", dotOut)

	quotedOut := resolvePath(m, []pathSeg{{kind: segQuoted, text: "status"}})
	assert.Equal(t, "string-value", quotedOut)
}

func TestResolvePath_AtomBracketOnPlainMapDegradesToStringLookup(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"status": "ok"}}
	out, err := Render("{{ $input[:status] }}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestResolvePath_MissingSegmentReturnsNil(t *testing.T) {
	ctx := map[string]interface{}{"input": map[string]interface{}{"a": "b"}}
	out, err := Render("{{ $input.missing.deeper }}", ctx, Options{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCompile_ReusedAcrossContexts(t *testing.T) {
	ct, err := Compile("{{ $input.n }}")
	require.NoError(t, err)

	out1, err := ct.Render(map[string]interface{}{"input": map[string]interface{}{"n": int64(1)}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out1)

	out2, err := ct.Render(map[string]interface{}{"input": map[string]interface{}{"n": int64(2)}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out2)
}

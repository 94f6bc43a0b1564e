package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "integer", in: "123", want: int64(123)},
		{name: "negative integer", in: "-7", want: int64(-7)},
		{name: "padded integer", in: " 42 ", want: int64(42)},
		{name: "float", in: "1.5", want: 1.5},
		{name: "exponent float", in: "1e3", want: 1000.0},
		{name: "string", in: "OK", want: "OK"},
		{name: "empty", in: "", want: ""},
		{name: "version-like", in: "1.2.3", want: "1.2.3"},
		{name: "nan stays text", in: "NaN", want: "NaN"},
		{name: "inf stays text", in: "-Inf", want: "-Inf"},
		{name: "string keeps spaces", in: " hello ", want: " hello "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Infer(tt.in))
		})
	}
}

func TestFromFields(t *testing.T) {
	got := FromFields(map[string]string{"valor": "123", "estado": "OK", "ratio": "0.25"})
	assert.Equal(t, map[string]any{"valor": int64(123), "estado": "OK", "ratio": 0.25}, got)
}

func TestParseField(t *testing.T) {
	k, v, ok := ParseField("estado=OK=yes")
	assert.True(t, ok)
	assert.Equal(t, "estado", k)
	assert.Equal(t, "OK=yes", v)

	_, _, ok = ParseField("novalue")
	assert.False(t, ok)

	_, _, ok = ParseField("=value")
	assert.False(t, ok)
}

func TestClone_IsDeep(t *testing.T) {
	original := map[string]any{
		"name": "m1",
		"fields": map[string]any{
			"valor": 123,
			"list":  []any{1, map[string]any{"x": "y"}},
		},
	}

	cloned := Clone(original).(map[string]any)

	original["name"] = "changed"
	original["fields"].(map[string]any)["valor"] = 999
	original["fields"].(map[string]any)["list"].([]any)[1].(map[string]any)["x"] = "z"

	assert.Equal(t, "m1", cloned["name"])
	fields := cloned["fields"].(map[string]any)
	assert.Equal(t, 123, fields["valor"])
	assert.Equal(t, "y", fields["list"].([]any)[1].(map[string]any)["x"])
}

func TestClone_StructSnapshotsThroughJSON(t *testing.T) {
	type msg struct {
		Valor int      `json:"valor"`
		Tags  []string `json:"tags"`
	}
	in := &msg{Valor: 1, Tags: []string{"a"}}

	got := Clone(in)
	in.Tags[0] = "b"

	assert.Equal(t, map[string]any{"valor": 1.0, "tags": []any{"a"}}, got)
}

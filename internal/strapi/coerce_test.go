package strapi

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoerceScalars(t *testing.T) {
	r := testRegistry()

	testCases := []struct {
		name string
		raw  any
		desc Descriptor
		want Value
	}{
		{name: "string", raw: "hello", desc: String(), want: StringValue("hello")},
		{name: "int from float", raw: float64(42), desc: Int(), want: IntValue(42)},
		{name: "int from json number", raw: json.Number("7"), desc: Int(), want: IntValue(7)},
		{name: "float", raw: 1.5, desc: Float(), want: NumberValue(1.5)},
		{name: "bool", raw: true, desc: Bool(), want: BoolValue(true)},
		{name: "json", raw: map[string]any{"a": "b"}, desc: JSON(), want: OpaqueValue(map[string]any{"a": "b"})},
		{name: "optional null", raw: nil, desc: Opt(String()), want: NullValue()},
		{name: "optional present", raw: "x", desc: Opt(String()), want: StringValue("x")},
		{name: "untyped passthrough", raw: []any{"a"}, desc: nil, want: OpaqueValue([]any{"a"})},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Coerce("field", tc.raw, tc.desc)
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		})
	}
}

func TestCoerceInvalid(t *testing.T) {
	r := testRegistry()

	testCases := []struct {
		name string
		raw  any
		desc Descriptor
	}{
		{name: "string from number", raw: float64(1), desc: String()},
		{name: "int from fraction", raw: 1.5, desc: Int()},
		{name: "bool from string", raw: "true", desc: Bool()},
		{name: "required null", raw: nil, desc: String()},
		{name: "reference from string", raw: "3", desc: Reference{Entity: "course"}},
		{name: "list from object", raw: map[string]any{"id": float64(1)}, desc: ReferenceList{Entity: "course"}},
		{name: "list with null", raw: map[string]any{"data": []any{nil}}, desc: ReferenceList{Entity: "course"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Coerce("field", tc.raw, tc.desc)
			var invalid *InvalidFieldError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			require.Equal(t, "field", invalid.Field)
			require.Equal(t, tc.desc.String(), invalid.Expected)
		})
	}
}

func TestCoerceReferenceShapes(t *testing.T) {
	r := testRegistry()
	desc := Reference{Entity: "course"}

	shallowWrapped, err := r.Coerce("course", map[string]any{
		"data": map[string]any{"id": float64(5)},
	}, desc)
	require.NoError(t, err)

	bare, err := r.Coerce("course", float64(5), desc)
	require.NoError(t, err)

	deep, err := r.Coerce("course", map[string]any{
		"data": map[string]any{
			"id":         float64(5),
			"attributes": map[string]any{"title": "Intro"},
		},
	}, desc)
	require.NoError(t, err)

	unwrappedDeep, err := r.Coerce("course", map[string]any{
		"id":         float64(5),
		"attributes": map[string]any{"title": "Intro"},
	}, desc)
	require.NoError(t, err)

	for _, v := range []Value{bare, deep, unwrappedDeep} {
		require.True(t, shallowWrapped.Equal(v))
	}

	ref, ok := deep.Ref()
	require.True(t, ok)
	require.True(t, ref.Deep())
	require.Equal(t, "Intro", ref.Record.Str("title"))

	ref, _ = shallowWrapped.Ref()
	require.False(t, ref.Deep())

	null, err := r.Coerce("course", map[string]any{"data": nil}, Opt(desc))
	require.NoError(t, err)
	require.True(t, null.IsNull())
}

func TestCoerceReferenceList(t *testing.T) {
	r := testRegistry()
	desc := ReferenceList{Entity: "category"}

	null, err := r.Coerce("categories", map[string]any{"data": nil}, desc)
	require.NoError(t, err)
	require.True(t, null.IsNull())

	empty, err := r.Coerce("categories", map[string]any{"data": []any{}}, desc)
	require.NoError(t, err)
	refs, ok := empty.Refs()
	require.True(t, ok)
	require.Empty(t, refs)

	loaded, err := r.Coerce("categories", map[string]any{"data": []any{
		map[string]any{"id": float64(1), "attributes": map[string]any{"name": "A"}},
		map[string]any{"id": float64(2)},
	}}, desc)
	require.NoError(t, err)
	refs, _ = loaded.Refs()
	require.Len(t, refs, 2)
	require.True(t, refs[0].Deep())
	require.Equal(t, "A", refs[0].Record.Str("name"))
	require.Equal(t, int64(2), refs[1].ID)
	require.Equal(t, []any{int64(1), int64(2)}, loaded.Wire())
}

func TestCoerceOpaqueDataWrapper(t *testing.T) {
	r := testRegistry()

	v, err := r.Coerce("legacy", map[string]any{"data": map[string]any{"id": float64(9)}}, nil)
	require.NoError(t, err)
	id, ok := v.Int()
	require.True(t, ok)
	require.Equal(t, int64(9), id)

	v, err = r.Coerce("legacy", map[string]any{"data": nil}, nil)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestCoerceCustom(t *testing.T) {
	r := testRegistry()

	v, err := r.Coerce("video", map[string]any{"data": map[string]any{
		"id": float64(3),
		"attributes": map[string]any{
			"name": "intro.mp4",
			"hash": "intro_abc",
			"ext":  ".mp4",
			"mime": "video/mp4",
			"size": 10.5,
			"url":  "/uploads/intro_abc.mp4",
		},
	}}, Opt(CustomCoercible{Codec: MediaCodec}))
	require.NoError(t, err)
	m := MediaOf(v)
	require.NotNil(t, m)
	require.Equal(t, int64(3), m.ID)
	require.Equal(t, "intro_abc", m.Hash)

	v, err = r.Coerce("video", map[string]any{"data": nil}, CustomCoercible{Codec: MediaCodec})
	require.NoError(t, err)
	require.True(t, v.IsNull())

	_, err = r.Coerce("recorded", "not a date", CustomCoercible{Codec: DatetimeCodec})
	var invalid *InvalidFieldError
	require.ErrorAs(t, err, &invalid)
}

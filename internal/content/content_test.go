package content

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_PreservesMemberOrderAndNumbers(t *testing.T) {
	input := `{"zeta":1,"alpha":{"b":2.50,"a":[true,null,"x"]},"big":12345678901234567890}`

	v, err := ParseJSON([]byte(input))
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	keys := []string{}
	for _, p := range v.Pairs() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"zeta", "alpha", "big"}, keys)

	out, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, input, string(out))
}

func TestParseJSON_TrailingData_ReturnsError(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestValueWith_KeepsPositionOfExistingKey(t *testing.T) {
	v := Map(Pair{"title", String("a")}, Pair{"draft", Bool(true)})
	v = v.With("title", String("b")).With("tags", List(String("go")))

	require.Equal(t, 3, v.Len())
	assert.Equal(t, "title", v.Pairs()[0].Key)
	title, ok := v.GetString("title")
	require.True(t, ok)
	assert.Equal(t, "b", title)
}

func TestEqual(t *testing.T) {
	a := Map(Pair{"n", Int(1)}, Pair{"l", List(Null(), Bool(false))})
	b := Map(Pair{"n", Int(1)}, Pair{"l", List(Null(), Bool(false))})
	c := Map(Pair{"l", List(Null(), Bool(false))}, Pair{"n", Int(1)})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(Int(1), String("1")))
}

func TestNumber_RejectsGarbage(t *testing.T) {
	_, err := Number("1e")
	require.Error(t, err)

	n, err := Number("1e3")
	require.NoError(t, err)
	f, err := n.Float64()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, f)
}

func TestParseYAML_OrderedMapping(t *testing.T) {
	input := []byte("title: Hello\ncount: 3\nratio: 0.5\ndraft: false\ntags:\n  - a\n  - b\nnothing: ~\n")

	v, err := ParseYAML(input)
	require.NoError(t, err)

	want := Map(
		Pair{"title", String("Hello")},
		Pair{"count", Int(3)},
		Pair{"ratio", Value{kind: KindNumber, s: "0.5"}},
		Pair{"draft", Bool(false)},
		Pair{"tags", List(String("a"), String("b"))},
		Pair{"nothing", Null()},
	)
	assert.True(t, Equal(want, v), "got %s", v)
}

func TestParseYAML_Empty_ReturnsEmptyMap(t *testing.T) {
	v, err := ParseYAML([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, 0, v.Len())
}

func TestSplit_NoFrontMatter_ReturnsBodyOnly(t *testing.T) {
	input := []byte("# Title\n\nHello\n")

	header, body, had, err := Split(input)
	require.NoError(t, err)
	require.False(t, had)
	require.Empty(t, header)
	require.Equal(t, input, body)
}

func TestSplit_CRLF(t *testing.T) {
	input := []byte("---\r\nkey: value\r\n---\r\n# Title\r\n")

	header, body, had, err := Split(input)
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("key: value\r\n"), header)
	require.Equal(t, []byte("# Title\r\n"), body)
}

func TestSplit_ClosingDelimiterAtEOF(t *testing.T) {
	header, body, had, err := Split([]byte("---\nkey: value\n---"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("key: value\n"), header)
	require.Empty(t, body)
}

func TestSplit_MissingClosingDelimiter(t *testing.T) {
	_, _, had, err := Split([]byte("---\nkey: value\n# Title\n"))
	require.False(t, had)
	require.True(t, errors.Is(err, ErrMissingClosingDelimiter))
}

func TestParseDocument(t *testing.T) {
	t.Run("markdown with front matter", func(t *testing.T) {
		v, err := ParseDocument("blog/hello.md", []byte("---\ntitle: Hello\n---\nBody text\n"))
		require.NoError(t, err)

		title, _ := v.GetString("title")
		body, _ := v.GetString(BodyKey)
		assert.Equal(t, "Hello", title)
		assert.Equal(t, "Body text\n", body)
		assert.Equal(t, BodyKey, v.Pairs()[1].Key)
	})

	t.Run("markdown without front matter", func(t *testing.T) {
		v, err := ParseDocument("notes/plain.md", []byte("just text"))
		require.NoError(t, err)
		assert.Equal(t, 1, v.Len())
	})

	t.Run("json", func(t *testing.T) {
		v, err := ParseDocument("settings/site.json", []byte(`{"name":"site"}`))
		require.NoError(t, err)
		name, _ := v.GetString("name")
		assert.Equal(t, "site", name)
	})

	t.Run("yaml", func(t *testing.T) {
		v, err := ParseDocument("authors/ann.YAML", []byte("name: Ann\n"))
		require.NoError(t, err)
		name, _ := v.GetString("name")
		assert.Equal(t, "Ann", name)
	})

	t.Run("scalar front matter is rejected", func(t *testing.T) {
		_, err := ParseDocument("blog/bad.md", []byte("---\njust a string\n---\nbody"))
		require.Error(t, err)
	})
}

package cidhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	type payload struct {
		Function string   `json:"function"`
		Inputs   []string `json:"inputs"`
	}

	a, err := Of(payload{Function: "add", Inputs: []string{"1", "2"}})
	require.NoError(t, err)
	b, err := Of(payload{Function: "add", Inputs: []string{"1", "2"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, string(a), "sha256:")
}

func TestOfDiffersOnContent(t *testing.T) {
	a, err := Of(map[string]int{"x": 1})
	require.NoError(t, err)
	b, err := Of(map[string]int{"x": 2})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestParseValid(t *testing.T) {
	cid, err := Of("hello")
	require.NoError(t, err)

	parsed, ok := Parse(cid.String())
	require.True(t, ok)
	assert.Equal(t, cid, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-cid",
		"sha256:tooshort",
		"md5:" + string(make([]byte, 64)),
	}
	for _, c := range cases {
		_, ok := Parse(c)
		assert.False(t, ok, "expected %q to be rejected", c)
	}
}

package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/smallmerge/pkg/models"
)

func TestParseValidYAML(t *testing.T) {
	const yamlContent = `
collections:
  - name: animals
    description: Expanded from "cat"
    families:
      - [cat, feline, kitty]
      - [feline, kitty, tabby, puss]
  - name: speed
    families:
      - [fast, quick, rapid]
`
	r, err := Parse([]byte(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, r)

	all := r.All()
	assert.Len(t, all, 2)
	assert.Equal(t, "animals", all[0].Name)
	assert.Equal(t, "speed", all[1].Name)

	c, ok := r.Get("animals")
	require.True(t, ok)
	assert.Equal(t, `Expanded from "cat"`, c.Description)
	assert.Equal(t, []models.Family{
		{"cat", "feline", "kitty"},
		{"feline", "kitty", "tabby", "puss"},
	}, c.Families)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestParseInvalidYAML(t *testing.T) {
	r, err := Parse([]byte(":\tinvalid:\tyaml:\t[unclosed"))
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestParseRejectsDuplicatesAndBlankNames(t *testing.T) {
	_, err := Parse([]byte("collections:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, `duplicate collection "a"`)

	_, err = Parse([]byte("collections:\n  - families: [[x, y, z]]\n"))
	assert.ErrorContains(t, err, "has no name")
}

func TestNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Collection{Name: "zebra"}))
	require.NoError(t, r.Add(Collection{Name: "alpha"}))
	require.NoError(t, r.Add(Collection{Name: "mango"}))

	assert.Equal(t, []string{"alpha", "mango", "zebra"}, r.Names())

	// All preserves definition order
	all := r.All()
	assert.Equal(t, "zebra", all[0].Name)
	assert.Equal(t, "alpha", all[1].Name)
	assert.Equal(t, "mango", all[2].Name)
}

func TestMarshalRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Collection{Name: "b", Families: []models.Family{{"x", "y", "z"}}}))
	require.NoError(t, r.Add(Collection{Name: "a", Families: []models.Family{{"p", "q", "r"}}}))

	data, err := r.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, back.All(), 2)
	assert.Equal(t, "b", back.All()[0].Name)
	assert.Equal(t, models.Family{"p", "q", "r"}, back.All()[1].Families[0])
}

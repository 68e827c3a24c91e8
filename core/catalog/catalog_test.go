package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 10)

	milk, ok := c.ByName("milk")
	require.True(t, ok)
	assert.Equal(t, uint16(1), milk.Index)
	assert.Equal(t, "MILK", c.NameOf(milk.Index))

	defaults := c.Defaults()
	assert.True(t, defaults["MILK"].Perishable())
	assert.False(t, defaults["SILAGE"].Perishable())
	_, hasStraw := defaults["STRAW"]
	assert.False(t, hasStraw)
}

func TestParse(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		c, err := Parse([]byte(`
commodities:
  - name: apple
    default: { period: 2.5 }
  - name: PEAR
`))
		require.NoError(t, err)
		assert.Equal(t, uint16(1), c.IndexOf("APPLE"))
		assert.Equal(t, uint16(2), c.IndexOf("pear"))
		assert.Equal(t, UnknownIndex, c.IndexOf("plum"))
		apple, _ := c.ByIndex(1)
		assert.Equal(t, "APPLE", apple.Title)
		assert.Equal(t, 2.5, apple.Default.Period)
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := Parse([]byte("commodities: [{name: a}, {name: A}]"))
		assert.Error(t, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := Parse([]byte("commodities: ["))
		assert.Error(t, err)
	})
}

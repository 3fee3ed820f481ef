package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestReportWins(t *testing.T) {
	c := NewCollector()
	c.Set("alpha", "first")
	c.Set("alpha", "second")

	r, ok := c.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "second", r.Text)
}

func TestAllSortedByAgent(t *testing.T) {
	c := NewCollector()
	c.Set("zeta", "z")
	c.Set("alpha", "a")

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Agent)
	assert.Equal(t, "zeta", all[1].Agent)
}

func TestDrop(t *testing.T) {
	c := NewCollector()
	c.Set("alpha", "a")
	c.Drop("alpha")

	_, ok := c.Get("alpha")
	assert.False(t, ok)
	assert.Empty(t, c.All())
}

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductID(t *testing.T) {
	cases := map[string][2]string{
		"old-monk-750ml":         {"Old Monk", "750ml"},
		"chateau-margaux-750-ml": {"Château  Margaux", "750 ML"},
		"kingfisher-strong-650":  {" Kingfisher Strong ", "650"},
		"jack-daniel-s-1l":       {"Jack Daniel's", "1L"},
	}
	for want, in := range cases {
		require.Equal(t, want, ProductID(in[0], in[1]), in)
	}
}

func TestParseVolume(t *testing.T) {
	cases := map[string]int64{
		"750ml":       750,
		"750 ML":      750,
		"180":         180,
		"1L":          1000,
		"1.5 ltr":     1500,
		"70cl":        700,
		" 330 ":       330,
		"12 YO 750ml": 750,
		"6 x 330ml":   330,
		"18 Years 1L": 1000,
	}
	for in, want := range cases {
		got, err := ParseVolume(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseVolume("large")
	require.ErrorIs(t, err, ErrInvalidVolume)
	_, err = ParseVolume("0ml")
	require.ErrorIs(t, err, ErrInvalidVolume)
	_, err = ParseVolume("12 YO")
	require.ErrorIs(t, err, ErrInvalidVolume)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" whiskey ")
	require.NoError(t, err)
	require.Equal(t, CategoryWhiskey, c)
	require.True(t, c.IsLiquor())

	c, err = ParseCategory("BEER")
	require.NoError(t, err)
	require.False(t, c.IsLiquor())

	_, err = ParseCategory("cider")
	require.ErrorIs(t, err, ErrInvalidCategory)
}

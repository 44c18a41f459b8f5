package captcha

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolve(t *testing.T) {
	cases := []struct {
		text   string
		expect int
	}{
		{"12 + 7", 19},
		{"20 - 5", 15},
		{"5 + 9 = ", 14},
		{"3 * 4 =", 12},
		{"10 / 2", 5},
		{"What is 7+2 ?", 9},
	}
	for _, test := range cases {
		got, err := Solve(test.text)
		require.NoError(t, err, test.text)
		require.Equal(t, test.expect, got, test.text)
	}
}

func TestSolveUnparsable(t *testing.T) {
	for _, text := range []string{"banana", "", "a + b =", "5 ="} {
		_, err := Solve(text)
		require.ErrorIs(t, err, ErrUnparsable, text)
	}
}

func TestFind(t *testing.T) {
	page := "Please prove you are human.\nCaptcha: 4 + 13 = \nSubmit"
	require.Equal(t, "4 + 13 =", Find(page))
	require.Equal(t, "", Find("no challenge here"))
}

package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1.2M", 1_200_000, true},
		{"3,456", 3_456, true},
		{"12k", 12_000, true},
		{"12K", 12_000, true},
		{"987", 987, true},
		{"2.5b", 2_500_000_000, true},
		{"  440 followers ", 440, true},
		{"Followers: 1,024", 1_024, true},
		{"none", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseCount(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

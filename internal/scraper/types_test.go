package scraper

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadMergeUnionsPartialResults(t *testing.T) {
	t.Parallel()

	base := Payload{
		Profile: Profile{Username: "octocat"},
		Stats:   map[string]int64{"followers": 100},
		Contact: Contact{Emails: []string{"a@example.com"}},
	}
	base.Merge(Payload{
		Profile:  Profile{Username: "ignored", DisplayName: "The Octocat"},
		Stats:    map[string]int64{"followers": 999, "repos": 8},
		Contact:  Contact{Emails: []string{"a@example.com", "b@example.com"}},
		Metadata: map[string]any{"source": "probe-2"},
	})

	require.Equal(t, "octocat", base.Profile.Username)
	require.Equal(t, "The Octocat", base.Profile.DisplayName)
	require.Equal(t, int64(100), base.Stats["followers"])
	require.Equal(t, int64(8), base.Stats["repos"])
	require.Equal(t, []string{"a@example.com", "b@example.com"}, base.Contact.Emails)
	require.Equal(t, "probe-2", base.Metadata["source"])
}

func TestPayloadIsEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, Payload{}.IsEmpty())
	require.False(t, Payload{Profile: Profile{Username: "x"}}.IsEmpty())
	require.False(t, Payload{Stats: map[string]int64{"k": 1}}.IsEmpty())
	require.False(t, Payload{RawExcerpt: "<html>"}.IsEmpty())
}

func TestBoundExcerpt(t *testing.T) {
	t.Parallel()

	short := "<html>hi</html>"
	require.Equal(t, short, BoundExcerpt(short))

	long := strings.Repeat("a", MaxExcerptBytes*2)
	require.Len(t, BoundExcerpt(long), MaxExcerptBytes)
}

func TestAsFailureUnwrapsChain(t *testing.T) {
	t.Parallel()

	inner := Failf(FailureTimeout, "navigation exceeded %s", "30s")
	wrapped := fmt.Errorf("profile adapter: %w", inner)

	f, ok := AsFailure(wrapped)
	require.True(t, ok)
	require.Equal(t, FailureTimeout, f.Kind)
	require.Contains(t, f.Error(), "timeout")

	_, ok = AsFailure(errors.New("pool exhausted"))
	require.False(t, ok)
}

package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("REWARDCTL_TEST_SECRET", "s3cret-value")
	src := NewSource("REWARDCTL_TEST_SECRET", "token signing secret")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret-value", value)

	// Cached after the first read.
	t.Setenv("REWARDCTL_TEST_SECRET", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret-value", value)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("REWARDCTL_TEST_SECRET", "   ")
	_, err := NewSource("REWARDCTL_TEST_SECRET", "").Get()
	require.ErrorContains(t, err, "set but empty")
}

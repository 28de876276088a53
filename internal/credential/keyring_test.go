package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnvPlaceholder(t *testing.T) {
	t.Setenv("TEST_CREDENTIAL", "secret-value")

	got, err := Resolve("${TEST_CREDENTIAL}")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", got)
}

func TestResolveUnsetEnvIsEmpty(t *testing.T) {
	got, err := Resolve("${TEST_CREDENTIAL_UNSET}")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveLiteralPassesThrough(t *testing.T) {
	for _, literal := range []string{"plain-password", "", "user@example.com", "$NOBRACES"} {
		got, err := Resolve(literal)
		require.NoError(t, err)
		assert.Equal(t, literal, got)
	}
}

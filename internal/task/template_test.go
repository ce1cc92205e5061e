package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineResolver(t *testing.T) {
	t.Parallel()

	resolver := InlineResolver{}

	t.Run("substitutes variables", func(t *testing.T) {
		t.Parallel()

		got, err := resolver.Resolve(context.Background(),
			"a {{color}} {{item}} on a table",
			map[string]string{"color": "red", "item": "mug"})
		require.NoError(t, err)
		assert.Equal(t, "a red mug on a table", got)
	})

	t.Run("no variables returns template unchanged", func(t *testing.T) {
		t.Parallel()

		got, err := resolver.Resolve(context.Background(), "plain prompt", nil)
		require.NoError(t, err)
		assert.Equal(t, "plain prompt", got)
	})

	t.Run("unknown placeholders stay visible", func(t *testing.T) {
		t.Parallel()

		got, err := resolver.Resolve(context.Background(),
			"a {{color}} mug", map[string]string{"size": "large"})
		require.NoError(t, err)
		assert.Equal(t, "a {{color}} mug", got)
	})
}

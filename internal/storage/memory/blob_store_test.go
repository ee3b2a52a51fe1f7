package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "b/run.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, "memory://b/run.json", uri)
	_, err = store.PutObject(context.Background(), "a/run.json", "", strings.NewReader("[]"))
	require.NoError(t, err)

	data, ok := store.Object("b/run.json")
	require.True(t, ok)
	assert.Equal(t, "{}", string(data))
	assert.Equal(t, []string{"a/run.json", "b/run.json"}, store.Paths())
}

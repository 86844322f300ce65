package impl_inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearTextRanksBySimilarityDescending(t *testing.T) {
	idx := New()
	ctx := context.Background()

	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-1", "printer ink black cartridge"))
	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-2", "printer ink blue cartridge"))
	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-3", "office chair ergonomic"))

	ids, err := idx.NearText(ctx, "t1", "v1", "inv-query", "printer ink black cartridge", 10)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "inv-1", ids[0])
}

func TestNearTextExcludesSelfAndOtherVendors(t *testing.T) {
	idx := New()
	ctx := context.Background()

	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-1", "printer ink black"))
	require.NoError(t, idx.Write(ctx, "t1", "v2", "inv-2", "printer ink black"))

	ids, err := idx.NearText(ctx, "t1", "v1", "inv-1", "printer ink black", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNearTextRespectsLimit(t *testing.T) {
	idx := New()
	ctx := context.Background()

	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-1", "paper a4 ream"))
	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-2", "paper a4 ream white"))
	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-3", "paper a4 ream bulk"))

	ids, err := idx.NearText(ctx, "t1", "v1", "inv-query", "paper a4 ream", 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestWriteOverwritesPriorBlobForSameInvoice(t *testing.T) {
	idx := New()
	ctx := context.Background()

	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-1", "office chair"))
	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-1", "printer ink black"))
	require.NoError(t, idx.Write(ctx, "t1", "v1", "inv-2", "printer ink black"))

	ids, err := idx.NearText(ctx, "t1", "v1", "inv-2", "printer ink black", 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "inv-1", ids[0])
}

//go:build cloudintegration

package archive

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plagctl/pkg/resultstore"
	"github.com/3leaps/plagctl/test/cloudtest"
)

func newMotoArchiver(t *testing.T, ctx context.Context) *Archiver {
	t.Helper()
	cloudtest.SkipIfUnavailable(t)

	a, err := New(ctx, Config{
		Bucket:          cloudtest.CreateBucket(t, ctx),
		Prefix:          "reports",
		Region:          cloudtest.Region,
		Endpoint:        cloudtest.Endpoint,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	return a
}

func TestArchiver_Moto_PutGetList(t *testing.T) {
	ctx := context.Background()
	a := newMotoArchiver(t, ctx)

	uri, err := a.PutResult(ctx, &resultstore.Record{ID: "r1", Filename: "essay.docx"})
	require.NoError(t, err)
	assert.Contains(t, uri, "/reports/results/r1.json")

	_, err = a.PutBytes(ctx, "exports/history.csv", "text/csv", []byte("id,file\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = a.Get(ctx, "results/r1.json", &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"filename": "essay.docx"`)

	objects, err := a.List(ctx)
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestArchiver_Moto_GetMissing(t *testing.T) {
	ctx := context.Background()
	a := newMotoArchiver(t, ctx)

	_, err := a.Get(ctx, "results/missing.json", &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

func insertBook(t *testing.T, p *Provider, isbn string, author int64) {
	t.Helper()
	_, err := p.Execute(context.Background(), types.Command{
		Action: types.ActionInsert,
		Table:  "books",
		Values: []types.Column{{Name: "ISBN", Value: isbn}, {Name: "AuthorID", Value: author}, {Name: "Title", Value: "t-" + isbn}},
	})
	require.NoError(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := newProvider(t)
	id := insertAuthor(t, p, "Le Guin")
	insertAuthor(t, p, "Butler")
	insertBook(t, p, "978-0", id)
	require.NoError(t, p.Save(dir))

	data, err := os.ReadFile(filepath.Join(dir, "authors"+SnapshotExt))
	require.NoError(t, err)
	assert.Equal(t, "{\"ID\":1,\"Name\":\"Le Guin\",\"Version\":1}\n{\"ID\":2,\"Name\":\"Butler\",\"Version\":1}\n", string(data))

	q := newProvider(t)
	require.NoError(t, q.Load(dir))
	if diff := cmp.Diff(p.Rows("authors"), q.Rows("authors")); diff != "" {
		t.Errorf("authors mismatch (-saved +loaded):\n%s", diff)
	}
	if diff := cmp.Diff(p.Rows("books"), q.Rows("books")); diff != "" {
		t.Errorf("books mismatch (-saved +loaded):\n%s", diff)
	}
	assert.IsType(t, int64(0), q.Rows("authors")[0]["ID"])

	assert.Equal(t, int64(3), insertAuthor(t, q, "Jemisin"), "identity resumes after loaded rows")
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := "{\"ID\":4,\"Name\":\"Ok\",\"Version\":2}\nnot json\n\n{\"ID\":\"four\"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authors"+SnapshotExt), []byte(content), 0o644))

	p := newProvider(t)
	require.NoError(t, p.Load(dir))
	rows := p.Rows("authors")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"ID": int64(4), "Name": "Ok", "Version": int64(2)}, rows[0])
	assert.Empty(t, p.Rows("books"))
}

func TestOpenPersistsOnClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	m := testModel(t)

	p, err := Open(m, dir)
	require.NoError(t, err)
	insertAuthor(t, p, "Le Guin")
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.FileExists(t, filepath.Join(dir, "authors"+SnapshotExt))
	assert.FileExists(t, filepath.Join(dir, "books"+SnapshotExt))

	q, err := Open(m, dir)
	require.NoError(t, err)
	defer q.Close()
	require.Len(t, q.Rows("authors"), 1)
	assert.Equal(t, "Le Guin", q.Rows("authors")[0]["Name"])
}

func TestSaveOnClosedProvider(t *testing.T) {
	p := newProvider(t)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Save(t.TempDir()), types.ErrProviderClosed)
	assert.ErrorIs(t, p.Load(t.TempDir()), types.ErrProviderClosed)
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

type author struct {
	ID      int64
	Name    string
	Version int64
	Books   []*book
}

type book struct {
	ISBN     string
	AuthorID int64
	Title    string
	Author   *author
}

func newProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	return New(testModel(t), opts...)
}

func testModel(t *testing.T) *schema.Model {
	t.Helper()
	m := schema.NewModel()
	authors := schema.Define[author](m, "authors")
	schema.Column(authors, "ID", func(a *author) int64 { return a.ID }, func(a *author, v int64) { a.ID = v },
		schema.PrimaryKey(), schema.DBGenerated())
	schema.Column(authors, "Name", func(a *author) string { return a.Name }, func(a *author, v string) { a.Name = v })
	schema.Column(authors, "Version", func(a *author) int64 { return a.Version }, func(a *author, v int64) { a.Version = v },
		schema.Version())

	books := schema.Define[book](m, "books")
	schema.Column(books, "ISBN", func(b *book) string { return b.ISBN }, func(b *book, v string) { b.ISBN = v }, schema.PrimaryKey())
	schema.Column(books, "AuthorID", func(b *book) int64 { return b.AuthorID }, func(b *book, v int64) { b.AuthorID = v })
	schema.Column(books, "Title", func(b *book) string { return b.Title }, func(b *book, v string) { b.Title = v })
	schema.BelongsTo(books, "Author", func(b *book) *author { return b.Author },
		func(b *book, a *author) { b.Author = a }, authors, []string{"AuthorID"}, nil)
	schema.HasMany(authors, "Books", func(a *author) []*book { return a.Books },
		func(a *author, v []*book) { a.Books = v }, books, nil, []string{"AuthorID"})
	require.NoError(t, m.Build())
	return m
}

func insertAuthor(t *testing.T, p *Provider, name string) int64 {
	t.Helper()
	var id, version int64
	res, err := p.Execute(context.Background(), types.Command{
		Action:    types.ActionInsert,
		Table:     "authors",
		Values:    []types.Column{{Name: "Name", Value: name}},
		Returning: []types.Returning{{Name: "ID", Target: &id}, {Name: "Version", Target: &version}},
	})
	require.NoError(t, err)
	require.True(t, res.Returned)
	assert.Equal(t, int64(1), version)
	return id
}

func TestInsertAssignsIdentityAndVersion(t *testing.T) {
	p := newProvider(t)
	assert.Equal(t, int64(1), insertAuthor(t, p, "Le Guin"))
	assert.Equal(t, int64(2), insertAuthor(t, p, "Butler"))
	assert.Len(t, p.Rows("authors"), 2)
	assert.Len(t, p.Commands(), 2)
}

func TestUpdateChecksAndVersion(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	id := insertAuthor(t, p, "Le Guin")

	var version int64
	res, err := p.Execute(ctx, types.Command{
		Action:    types.ActionUpdate,
		Table:     "authors",
		Values:    []types.Column{{Name: "Name", Value: "Ursula"}},
		Keys:      []types.Column{{Name: "ID", Value: int(id)}},
		Checks:    []types.Column{{Name: "Version", Value: int64(1)}},
		Returning: []types.Returning{{Name: "Version", Target: &version}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, int64(2), version)

	res, err = p.Execute(ctx, types.Command{
		Action: types.ActionUpdate,
		Table:  "authors",
		Values: []types.Column{{Name: "Name", Value: "Stale"}},
		Keys:   []types.Column{{Name: "ID", Value: id}},
		Checks: []types.Column{{Name: "Version", Value: int64(1)}},
	})
	require.NoError(t, err)
	assert.Zero(t, res.RowsAffected)
	assert.Equal(t, "Ursula", p.Rows("authors")[0]["Name"])
}

func TestForeignKeysAreEnforced(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	_, err := p.Execute(ctx, types.Command{
		Action: types.ActionInsert,
		Table:  "books",
		Values: []types.Column{{Name: "ISBN", Value: "x"}, {Name: "AuthorID", Value: int64(7)}},
	})
	assert.ErrorIs(t, err, ErrForeignKeyViolation)
	assert.Empty(t, p.Rows("books"))

	id := insertAuthor(t, p, "Butler")
	_, err = p.Execute(ctx, types.Command{
		Action: types.ActionInsert,
		Table:  "books",
		Values: []types.Column{{Name: "ISBN", Value: "x"}, {Name: "AuthorID", Value: id}},
	})
	require.NoError(t, err)

	_, err = p.Execute(ctx, types.Command{
		Action: types.ActionDelete,
		Table:  "authors",
		Keys:   []types.Column{{Name: "ID", Value: id}},
	})
	assert.ErrorIs(t, err, ErrForeignKeyViolation)
	assert.Len(t, p.Rows("authors"), 1)
}

func TestPrimaryKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	id := insertAuthor(t, p, "Butler")
	cmd := types.Command{
		Action: types.ActionInsert,
		Table:  "books",
		Values: []types.Column{{Name: "ISBN", Value: "x"}, {Name: "AuthorID", Value: id}},
	}
	_, err := p.Execute(ctx, cmd)
	require.NoError(t, err)
	_, err = p.Execute(ctx, cmd)
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestRollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	id := insertAuthor(t, p, "Butler")

	tx, err := p.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, types.Command{
		Action: types.ActionInsert,
		Table:  "books",
		Values: []types.Column{{Name: "ISBN", Value: "x"}, {Name: "AuthorID", Value: id}},
	})
	require.NoError(t, err)
	_, err = tx.Execute(ctx, types.Command{
		Action: types.ActionUpdate,
		Table:  "authors",
		Values: []types.Column{{Name: "Name", Value: "Octavia"}},
		Keys:   []types.Column{{Name: "ID", Value: id}},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)

	assert.Empty(t, p.Rows("books"))
	assert.Equal(t, "Butler", p.Rows("authors")[0]["Name"])
	assert.Equal(t, int64(1), p.Rows("authors")[0]["Version"])

	tx, err = p.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, types.Command{
		Action: types.ActionDelete,
		Table:  "authors",
		Keys:   []types.Column{{Name: "ID", Value: id}},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Empty(t, p.Rows("authors"))
}

func TestExistsAndFetch(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, WithGenerator("books", "Title", func() any { return "untitled" }))
	id := insertAuthor(t, p, "Butler")
	_, err := p.Execute(ctx, types.Command{
		Action: types.ActionInsert,
		Table:  "books",
		Values: []types.Column{{Name: "ISBN", Value: "x"}, {Name: "AuthorID", Value: id}},
	})
	require.NoError(t, err)

	lookup := types.Lookup{Table: "books", Keys: []types.Column{{Name: "ISBN", Value: "x"}}, Columns: []string{"AuthorID", "Title"}}
	ok, err := p.Exists(ctx, lookup)
	require.NoError(t, err)
	assert.True(t, ok)

	var authorID int
	var title *string
	ok, err = p.Fetch(ctx, lookup, []any{&authorID, &title})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int(id), authorID)
	require.NotNil(t, title)
	assert.Equal(t, "untitled", *title)

	lookup.Keys[0].Value = "y"
	ok, err = p.Fetch(ctx, lookup, []any{&authorID, &title})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Exists(ctx, types.Lookup{Table: "nope"})
	assert.ErrorIs(t, err, ErrNoSuchTable)
}

func TestClosedProvider(t *testing.T) {
	p := newProvider(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err := p.BeginTx(context.Background())
	assert.ErrorIs(t, err, types.ErrProviderClosed)
	_, err = p.Execute(context.Background(), types.Command{Table: "authors", Action: types.ActionInsert})
	assert.ErrorIs(t, err, types.ErrProviderClosed)
}

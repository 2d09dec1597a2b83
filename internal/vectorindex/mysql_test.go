package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"legalrag/internal/repository"
)

func newMockMySQLIndex(t *testing.T, dim int) (*MySQLIndex, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"dimension"})
	if dim > 0 {
		rows.AddRow(dim)
	}
	mock.ExpectQuery("SELECT `dimension` FROM `vector_chunks`").WillReturnRows(rows)

	idx, err := NewMySQLIndex(context.Background(), repository.NewVectorChunkRepository(db))
	require.NoError(t, err)
	return idx, mock
}

func TestMySQLIndexReplaceRunsInTransaction(t *testing.T) {
	idx, mock := newMockMySQLIndex(t, 0)
	assert.Zero(t, idx.Dimension())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `vector_chunks` WHERE source = ?").
		WithArgs("data/ipc.pdf").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO `vector_chunks`").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	removed, err := idx.Replace(context.Background(), "data/ipc.pdf",
		entriesFor("data/ipc.pdf", "ipc", []float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, idx.Dimension())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLIndexSearchScoresRows(t *testing.T) {
	idx, mock := newMockMySQLIndex(t, 2)

	cols := []string{"id", "source", "document_type", "page", "chunk_index", "content", "embedding", "dimension", "created_at"}
	mock.ExpectQuery("SELECT \\* FROM `vector_chunks`").WillReturnRows(sqlmock.NewRows(cols).
		AddRow("id-1", "data/ipc.pdf", "ipc", 1, 0, "theft", "[1,0]", 2, time.Now()).
		AddRow("id-2", "data/crpc.pdf", "crpc", 4, 2, "bail", "[0,1]", 2, time.Now()))

	hits, err := idx.Search(context.Background(), []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "id-2", hits[0].ID)
	assert.Equal(t, "bail", hits[0].Text)
	assert.Equal(t, Metadata{Source: "data/crpc.pdf", Page: 4, DocumentType: "crpc", ChunkIndex: 2}, hits[0].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLIndexSourcesAndClear(t *testing.T) {
	idx, mock := newMockMySQLIndex(t, 2)
	ctx := context.Background()

	mock.ExpectQuery("SELECT source, MAX\\(document_type\\) AS document_type, COUNT\\(\\*\\) AS chunks FROM `vector_chunks` GROUP BY .?source.?").
		WillReturnRows(sqlmock.NewRows([]string{"source", "document_type", "chunks"}).
			AddRow("data/ipc.pdf", "ipc", 12))
	sources, err := idx.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceStat{Chunks: 12, DocumentType: "ipc"}, sources["data/ipc.pdf"])

	mock.ExpectExec("DELETE FROM `vector_chunks`").WillReturnResult(sqlmock.NewResult(0, 12))
	n, err := idx.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Zero(t, idx.Dimension())

	_, err = idx.Delete(ctx, Filter{})
	assert.ErrorIs(t, err, ErrEmptyFilter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLIndexForgetsDimensionWhenEmptied(t *testing.T) {
	idx, mock := newMockMySQLIndex(t, 2)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM `vector_chunks` WHERE source = ?").
		WithArgs("data/a.txt").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `vector_chunks`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	n, err := idx.Delete(ctx, Filter{Source: "data/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, idx.Dimension())

	mock.ExpectExec("DELETE FROM `vector_chunks` WHERE source = ?").
		WithArgs("data/b.txt").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `vector_chunks`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	_, err = idx.Delete(ctx, Filter{Source: "data/b.txt"})
	require.NoError(t, err)
	assert.Zero(t, idx.Dimension())
	assert.NoError(t, mock.ExpectationsWereMet())
}

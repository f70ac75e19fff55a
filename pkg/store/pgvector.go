// Package store keeps document vectors in PostgreSQL using pgvector. It is
// an alternative to the in-memory index for deployments that already run
// Postgres and want vectors out of the process heap.
package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/askdoc/internal/types"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	// VectorDim fixes the column dimension and enables an HNSW index.
	// Zero keeps the column untyped and every search exact.
	VectorDim int
	BatchSize int
	// ResetOnStart empties the table when the store opens. Sessions do not
	// survive a restart, so their rows would only be garbage.
	ResetOnStart bool
}

// VectorStore builds one collection of rows per document context.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	table  string
}

var _ types.IndexBuilder = (*VectorStore)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "askdoc_vectors"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("%w: invalid table name %q", types.ErrInvalidArgument, config.TableName)
	}
	if config.VectorDim < 0 {
		return nil, fmt.Errorf("%w: vector dimension cannot be negative", types.ErrInvalidArgument)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	column := "vector"
	if vs.config.VectorDim > 0 {
		column = fmt.Sprintf("vector(%d)", vs.config.VectorDim)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			embedding %s NOT NULL,
			PRIMARY KEY (collection, row_index)
		)`, vs.table, column)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if vs.config.VectorDim > 0 {
		createIndex := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
			ON %s
			USING hnsw (embedding vector_ip_ops)`,
			pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table)

		_, err = vs.pool.Exec(ctx, createIndex)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if vs.config.ResetOnStart {
		if _, err := vs.pool.Exec(ctx, "TRUNCATE "+vs.table); err != nil {
			return fmt.Errorf("failed to reset table: %w", err)
		}
	}

	return nil
}

// Build stores vectors as the rows of collection, replacing any previous
// rows with the same collection name.
func (vs *VectorStore) Build(ctx context.Context, collection string, vectors [][]float32) (types.VectorIndex, error) {
	dim, err := vs.dimension(vectors)
	if err != nil {
		return nil, err
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE collection = $1", vs.table), collection); err != nil {
		return nil, fmt.Errorf("failed to clear collection: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (collection, row_index, embedding) VALUES ($1, $2, $3)`, vs.table)

	// Insert vectors in batches
	for start := 0; start < len(vectors); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(vectors) {
			end = len(vectors)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			batch.Queue(stmt, collection, i, pgvector.NewVector(vectors[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("failed to insert vectors: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Collection{store: vs, name: collection, size: len(vectors), dim: dim}, nil
}

func (vs *VectorStore) dimension(vectors [][]float32) (int, error) {
	dim := vs.config.VectorDim
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has dimension %d, want %d", types.ErrInvalidArgument, i, len(v), dim)
		}
	}
	return dim, nil
}

// Drop deletes every row of collection.
func (vs *VectorStore) Drop(ctx context.Context, collection string) error {
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE collection = $1", vs.table), collection)
	if err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", collection, err)
	}
	return nil
}

// Ping checks the database connection.
func (vs *VectorStore) Ping(ctx context.Context) error {
	return vs.pool.Ping(ctx)
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// Collection is the VectorIndex view of one document's rows.
type Collection struct {
	store *VectorStore
	name  string
	size  int
	dim   int
}

var _ types.VectorIndex = (*Collection)(nil)

func (c *Collection) Len() int {
	return c.size
}

// Search ranks rows by inner product with query. pgvector's <#> operator
// returns the negated inner product, so ascending order is best first.
func (c *Collection) Search(ctx context.Context, query []float32, k int) ([]types.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", types.ErrInvalidArgument, k)
	}
	if c.size == 0 {
		return nil, nil
	}
	if len(query) != c.dim {
		return nil, fmt.Errorf("%w: query dimension %d != index dimension %d", types.ErrInvalidArgument, len(query), c.dim)
	}

	sql := fmt.Sprintf(`
		SELECT row_index, (embedding <#> $2) * -1 AS score
		FROM %s
		WHERE collection = $1
		ORDER BY embedding <#> $2, row_index
		LIMIT $3`,
		c.store.table)

	rows, err := c.store.pool.Query(ctx, sql, c.name, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var (
			row   int32
			score float64
		)
		if err := rows.Scan(&row, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, types.SearchResult{Row: int(row), Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

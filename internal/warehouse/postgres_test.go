package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name: "basic connection",
			config: Config{
				Host:     "localhost",
				Port:     5432,
				Database: "market",
				Username: "etl",
				Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=market sslmode=disable user=etl password=pass",
		},
		{
			name: "with custom sslmode",
			config: Config{
				Host:     "prod.example.com",
				Port:     5432,
				Database: "market",
				Username: "etl",
				Options:  map[string]string{"sslmode": "require"},
			},
			expected: "host=prod.example.com port=5432 dbname=market sslmode=require user=etl",
		},
		{
			name:     "defaults",
			config:   Config{Database: "market"},
			expected: "host=localhost port=5432 dbname=market sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildPostgresDSN(tt.config))
		})
	}
}

func TestPostgresNotConnected(t *testing.T) {
	ctx := context.Background()
	a := NewPostgresAdapter()

	assert.Error(t, a.Exec(ctx, "SELECT 1"))
	_, err := a.Query(ctx, "SELECT 1")
	assert.Error(t, err)
	_, err = a.TableExists(ctx, "raw.equity_prices")
	assert.Error(t, err)
	assert.Error(t, a.LoadCSV(ctx, "raw.equity_prices", "/tmp/bars.csv"))
}

func TestPostgresDialectName(t *testing.T) {
	assert.Equal(t, "postgres", NewPostgresAdapter().DialectName())
}

func TestPostgresTableExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	a := &PostgresAdapter{db: db}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM information_schema.tables`).
		WithArgs("raw", "equity_prices").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := a.TableExists(context.Background(), "raw.equity_prices")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadCSV(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	a := &PostgresAdapter{db: db}

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(csvPath,
		[]byte("date,close,symbol\n2024-01-02,475.31,SPY\n2024-01-03,,SPY\n"), 0o600))

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO raw.equity_prices \(date, close, symbol\) VALUES \(\$1, \$2, \$3\)`)
	prep.ExpectExec().WithArgs("2024-01-02", "475.31", "SPY").WillReturnResult(sqlmock.NewResult(0, 1))
	// Empty CSV fields become SQL NULLs.
	prep.ExpectExec().WithArgs("2024-01-03", nil, "SPY").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, a.LoadCSV(context.Background(), "raw.equity_prices", csvPath))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package db

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "business_metrics", []string{"id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"business_metrics"}, []string{"id", "value"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "business_metrics", []string{"id", "value"}, [][]any{{"a", 1.0}, {"b", 2.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"business_metrics"}, []string{"id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "business_metrics", []string{"id"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO business_metrics")
}

func TestUpsert_EmptyRows(t *testing.T) {
	n, err := Upsert(context.Background(), nil, UpsertConfig{Table: "kpis"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsert_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"table", UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "no table"},
		{"columns", UpsertConfig{Table: "kpis", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"keys", UpsertConfig{Table: "kpis", Columns: []string{"id"}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Upsert(context.Background(), nil, tt.cfg, [][]any{{"x"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUpsert_SingleStatement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "kpis"`).
		WithArgs("revenue", 1.0, "placements", 2.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := Upsert(context.Background(), mock, UpsertConfig{
		Table:        "kpis",
		Columns:      []string{"id", "current"},
		ConflictKeys: []string{"id"},
	}, [][]any{{"revenue", 1.0}, {"placements", 2.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RowWidthMismatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Upsert(context.Background(), mock, UpsertConfig{
		Table:        "kpis",
		Columns:      []string{"id", "current"},
		ConflictKeys: []string{"id"},
	}, [][]any{{"revenue", 1.0}, {"placements"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1 has 1 values, want 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_ChunksAtParamLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := make([]string, 1000)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	row := make([]any, len(cols))
	rows := make([][]any, 70)
	for i := range rows {
		rows[i] = row
	}

	// 65535 / 1000 = 65 rows per statement.
	mock.ExpectExec(`INSERT INTO "wide"`).WithArgs(repeatAny(65*1000)...).WillReturnResult(pgxmock.NewResult("INSERT", 65))
	mock.ExpectExec(`INSERT INTO "wide"`).WithArgs(repeatAny(5*1000)...).WillReturnResult(pgxmock.NewResult("INSERT", 5))

	n, err := Upsert(context.Background(), mock, UpsertConfig{Table: "wide", Columns: cols, ConflictKeys: []string{"c0"}}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(70), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func repeatAny(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestUpsert_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "kpis"`).WillReturnError(fmt.Errorf("deadlock"))

	_, err = Upsert(context.Background(), mock, UpsertConfig{
		Table: "kpis", Columns: []string{"id"}, ConflictKeys: []string{"id"},
	}, [][]any{{"revenue"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: upsert kpis")
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "kpis",
		Columns:      []string{"id", "current", "status"},
		ConflictKeys: []string{"id"},
	}, 2)

	assert.Equal(t,
		`INSERT INTO "kpis" ("id", "current", "status") VALUES ($1, $2, $3), ($4, $5, $6) ON CONFLICT ("id") DO UPDATE SET "current" = EXCLUDED."current", "status" = EXCLUDED."status"`,
		sql)
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "public.alerts",
		Columns:      []string{"id", "status", "resolved_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"resolved_at"},
	}, 1)
	assert.Equal(t,
		`INSERT INTO "public"."alerts" ("id", "status", "resolved_at") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "resolved_at" = EXCLUDED."resolved_at"`,
		sql)
}

func TestUpsertSQL_OnlyKeys(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "user_roles",
		Columns:      []string{"user_id", "role"},
		ConflictKeys: []string{"user_id", "role"},
	}, 1)
	assert.True(t, strings.HasSuffix(sql, "DO NOTHING"))
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"kpis"`, sanitizeTable("kpis"))
	assert.Equal(t, `"public"."kpis"`, sanitizeTable("public.kpis"))
}

package db

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// maxParams is Postgres' bind parameter limit per statement.
const maxParams = 65535

// Execer runs a statement. Both Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpsertConfig describes a multi-row INSERT ... ON CONFLICT.
type UpsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	// UpdateCols are overwritten on conflict. Nil means every column that is
	// not a conflict key; when that leaves nothing the statement is DO NOTHING.
	UpdateCols []string
}

func (c UpsertConfig) validate() error {
	switch {
	case c.Table == "":
		return eris.New("db: upsert: no table")
	case len(c.Columns) == 0:
		return eris.New("db: upsert: no columns specified")
	case len(c.ConflictKeys) == 0:
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

// Upsert writes rows with one VALUES list per statement, splitting into
// several statements only when the bind parameter limit requires it. Last
// write wins. Callers that need all chunks to land together pass a pgx.Tx.
func Upsert(ctx context.Context, exec Execer, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	width := len(cfg.Columns)
	per := maxParams / width
	var total int64
	for start := 0; start < len(rows); start += per {
		chunk := rows[start:min(start+per, len(rows))]
		args := make([]any, 0, len(chunk)*width)
		for i, r := range chunk {
			if len(r) != width {
				return total, eris.Errorf("db: upsert %s: row %d has %d values, want %d", cfg.Table, start+i, len(r), width)
			}
			args = append(args, r...)
		}
		tag, err := exec.Exec(ctx, upsertSQL(cfg, len(chunk)), args...)
		if err != nil {
			return total, eris.Wrapf(err, "db: upsert %s", cfg.Table)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func upsertSQL(cfg UpsertConfig, nrows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sanitizeTable(cfg.Table))
	b.WriteString(" (")
	b.WriteString(quoteAndJoin(cfg.Columns))
	b.WriteString(") VALUES ")

	n := 1
	for r := range nrows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cfg.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(quoteAndJoin(cfg.ConflictKeys))
	b.WriteString(") ")

	update := cfg.UpdateCols
	if update == nil {
		keys := make(map[string]struct{}, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = struct{}{}
		}
		for _, c := range cfg.Columns {
			if _, ok := keys[c]; !ok {
				update = append(update, c)
			}
		}
	}
	if len(update) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	b.WriteString("DO UPDATE SET ")
	for i, col := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		id := pgx.Identifier{col}.Sanitize()
		b.WriteString(id + " = EXCLUDED." + id)
	}
	return b.String()
}

// sanitizeTable quotes a table name, keeping an optional schema prefix.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/db"
	"github.com/sells-group/pulse/internal/model"
)

var kpiUpsert = db.UpsertConfig{
	Table:        "kpis",
	Columns:      []string{"id", "name", "formula", "target", "current", "achievement", "status", "data_missing", "updated_at"},
	ConflictKeys: []string{"id"},
}

// UpsertKPIs overwrites each KPI row by id. Last write wins.
func (s *PostgresStore) UpsertKPIs(ctx context.Context, kpis []model.KPI) error {
	rows := make([][]any, 0, len(kpis))
	for _, k := range kpis {
		rows = append(rows, []any{
			k.ID, k.Name, k.Formula, k.Target, k.Current, k.Achievement,
			string(k.Status), k.DataMissing, k.UpdatedAt,
		})
	}
	if _, err := db.Upsert(ctx, s.pool, kpiUpsert, rows); err != nil {
		return eris.Wrap(err, "store: upsert kpis")
	}
	return nil
}

// ListKPIs returns all KPI rows ordered by id.
func (s *PostgresStore) ListKPIs(ctx context.Context) ([]model.KPI, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, formula, target, current, achievement, status, data_missing, updated_at FROM kpis ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list kpis")
	}
	defer rows.Close()

	var out []model.KPI
	for rows.Next() {
		var (
			k      model.KPI
			status string
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.Formula, &k.Target, &k.Current, &k.Achievement, &status, &k.DataMissing, &k.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan kpi")
		}
		k.Status = model.KPIStatus(status)
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate kpis")
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/db"
	"github.com/sells-group/pulse/internal/model"
)

// Aggregate names a windowed query over the business tables. Every query
// takes the half-open window [$1, $2) and yields a single float.
type Aggregate string

const (
	AggRevenue            Aggregate = "revenue"
	AggPlacements         Aggregate = "placements"
	AggApplications       Aggregate = "applications"
	AggAvgProductivity    Aggregate = "avg_productivity"
	AggTopicCompletions   Aggregate = "topic_completions"
	AggAvgQuizScore       Aggregate = "avg_quiz_score"
	AggQuizAttempts       Aggregate = "quiz_attempts"
	AggQuizPassed         Aggregate = "quiz_passed"
	AggActiveUsers        Aggregate = "active_users"
	AggSessions           Aggregate = "sessions"
	AggOpenJobs           Aggregate = "open_jobs"
	AggActiveApplications Aggregate = "active_applications"
)

var aggregateSQL = map[Aggregate]string{
	AggRevenue:          `SELECT COALESCE(SUM(fee_amount), 0)::float8 FROM placements WHERE placed_at >= $1 AND placed_at < $2`,
	AggPlacements:       `SELECT COUNT(*)::float8 FROM placements WHERE placed_at >= $1 AND placed_at < $2`,
	AggApplications:     `SELECT COUNT(*)::float8 FROM applications WHERE created_at >= $1 AND created_at < $2`,
	AggAvgProductivity:  `SELECT COALESCE(AVG(score), 0)::float8 FROM productivity_scores WHERE recorded_at >= $1 AND recorded_at < $2`,
	AggTopicCompletions: `SELECT COUNT(*)::float8 FROM topic_completions WHERE completed_at >= $1 AND completed_at < $2`,
	AggAvgQuizScore:     `SELECT COALESCE(AVG(score), 0)::float8 FROM quiz_attempts WHERE attempted_at >= $1 AND attempted_at < $2`,
	AggQuizAttempts:     `SELECT COUNT(*)::float8 FROM quiz_attempts WHERE attempted_at >= $1 AND attempted_at < $2`,
	AggQuizPassed:       `SELECT COUNT(*)::float8 FROM quiz_attempts WHERE passed AND attempted_at >= $1 AND attempted_at < $2`,
	AggActiveUsers:      `SELECT COUNT(DISTINCT user_id)::float8 FROM user_sessions WHERE started_at >= $1 AND started_at < $2`,
	AggSessions:         `SELECT COUNT(*)::float8 FROM user_sessions WHERE started_at >= $1 AND started_at < $2`,
	// open_jobs is a point-in-time count; the window start is ignored.
	AggOpenJobs:           `SELECT COUNT(*)::float8 FROM jobs WHERE status = 'open' AND created_at < $2 AND $1::timestamptz IS NOT NULL`,
	AggActiveApplications: `SELECT COUNT(*)::float8 FROM applications WHERE status IN ('submitted', 'reviewing', 'interviewing') AND created_at >= $1 AND created_at < $2`,
}

// Aggregate runs the named aggregate over [from, to).
func (s *PostgresStore) Aggregate(ctx context.Context, name Aggregate, from, to time.Time) (float64, error) {
	q, ok := aggregateSQL[name]
	if !ok {
		return 0, eris.Errorf("store: unknown aggregate %q", name)
	}
	var v float64
	if err := s.pool.QueryRow(ctx, q, from, to).Scan(&v); err != nil {
		return 0, eris.Wrapf(err, "store: aggregate %s", name)
	}
	return v, nil
}

var metricColumns = []string{"id", "name", "category", "value", "trend", "change_percent", "period", "metadata", "timestamp"}

// InsertMetrics appends metrics with COPY. Missing ids and timestamps are
// filled in on the passed slice.
func (s *PostgresStore) InsertMetrics(ctx context.Context, metrics []model.BusinessMetric) (int64, error) {
	rows := make([][]any, 0, len(metrics))
	for i := range metrics {
		m := &metrics[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		if m.Trend == "" {
			m.Trend = model.TrendStable
		}
		meta, err := json.Marshal(nonNilMap(m.Metadata))
		if err != nil {
			return 0, eris.Wrapf(err, "store: marshal metadata for %s", m.Name)
		}
		rows = append(rows, []any{
			m.ID, m.Name, string(m.Category), m.Value, string(m.Trend),
			m.ChangePercent, string(m.Period), meta, m.Timestamp,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "business_metrics", metricColumns, rows)
	return n, eris.Wrap(err, "store: insert metrics")
}

const metricSelect = `SELECT id, name, category, value, trend, change_percent, period, metadata, timestamp FROM business_metrics`

// LatestMetric returns the newest observation of a series, or ErrNotFound.
func (s *PostgresStore) LatestMetric(ctx context.Context, category model.MetricCategory, name string) (*model.BusinessMetric, error) {
	row := s.pool.QueryRow(ctx,
		metricSelect+` WHERE category = $1 AND name = $2 ORDER BY timestamp DESC LIMIT 1`,
		string(category), name,
	)
	m, err := scanMetric(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: latest metric %s:%s", category, name)
	}
	return m, nil
}

// MetricHistory returns up to limit most recent observations of a series,
// oldest first.
func (s *PostgresStore) MetricHistory(ctx context.Context, category model.MetricCategory, name string, limit int) ([]model.BusinessMetric, error) {
	rows, err := s.pool.Query(ctx,
		metricSelect+` WHERE category = $1 AND name = $2 ORDER BY timestamp DESC LIMIT $3`,
		string(category), name, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: metric history %s:%s", category, name)
	}
	out, err := collectMetrics(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecentMetrics returns observations newer than since, newest first.
func (s *PostgresStore) RecentMetrics(ctx context.Context, since time.Time, limit int) ([]model.BusinessMetric, error) {
	rows, err := s.pool.Query(ctx,
		metricSelect+` WHERE timestamp >= $1 ORDER BY timestamp DESC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: recent metrics")
	}
	return collectMetrics(rows)
}

// LatestMetrics returns the newest observation of every series, ordered by
// category then name.
func (s *PostgresStore) LatestMetrics(ctx context.Context) ([]model.BusinessMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (category, name) id, name, category, value, trend, change_percent, period, metadata, timestamp
		FROM business_metrics ORDER BY category, name, timestamp DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "store: latest metrics")
	}
	return collectMetrics(rows)
}

// HourlyActivity counts placements, applications and sessions per hour
// since the given time. Hours with no activity are absent.
func (s *PostgresStore) HourlyActivity(ctx context.Context, since time.Time) ([]model.ActivityBucket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hour,
			COUNT(*) FILTER (WHERE kind = 'placement')::int   AS placements,
			COUNT(*) FILTER (WHERE kind = 'application')::int AS applications,
			COUNT(*) FILTER (WHERE kind = 'session')::int     AS sessions
		FROM (
			SELECT date_trunc('hour', placed_at) AS hour, 'placement' AS kind FROM placements WHERE placed_at >= $1
			UNION ALL
			SELECT date_trunc('hour', created_at), 'application' FROM applications WHERE created_at >= $1
			UNION ALL
			SELECT date_trunc('hour', started_at), 'session' FROM user_sessions WHERE started_at >= $1
		) activity
		GROUP BY hour
		ORDER BY hour`, since)
	if err != nil {
		return nil, eris.Wrap(err, "store: hourly activity")
	}
	defer rows.Close()

	var out []model.ActivityBucket
	for rows.Next() {
		var b model.ActivityBucket
		if err := rows.Scan(&b.Hour, &b.Placements, &b.Applications, &b.Sessions); err != nil {
			return nil, eris.Wrap(err, "store: scan activity")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate activity")
}

func scanMetric(row pgx.Row) (*model.BusinessMetric, error) {
	var (
		m                       model.BusinessMetric
		category, trend, period string
		meta                    []byte
	)
	if err := row.Scan(&m.ID, &m.Name, &category, &m.Value, &trend, &m.ChangePercent, &period, &meta, &m.Timestamp); err != nil {
		return nil, err
	}
	m.Category = model.MetricCategory(category)
	m.Trend = model.Trend(trend)
	m.Period = model.Period(period)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, eris.Wrap(err, "store: decode metric metadata")
		}
	}
	return &m, nil
}

func collectMetrics(rows pgx.Rows) ([]model.BusinessMetric, error) {
	defer rows.Close()
	var out []model.BusinessMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan metric")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "store: iterate metrics")
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

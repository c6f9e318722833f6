package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	pkgch "GridCast/pkg/clickhouse"
	applogger "GridCast/pkg/logger"
)

// insertChunk bounds the rows per multi-row INSERT.
const insertChunk = 2000

const recordColumns = "ts, price, demand, gen_coal, gen_gas, gen_nuclear, gen_hydro, gen_wind, gen_solar, gen_other, reserves, interchange, temperature, wind_speed, cloud_cover, valid"

// CHRecordStore implements RecordStore backed by ClickHouse. Corrected
// rows replace earlier ones with the same timestamp.
type CHRecordStore struct {
	db      *sql.DB
	records string
	aux     string
	l       *applogger.Logger
	now     func() time.Time
}

var _ domrepo.RecordStore = (*CHRecordStore)(nil)

func NewCHRecordStore(ch *pkgch.Client) *CHRecordStore {
	return &CHRecordStore{
		db:      ch.DB(),
		records: ch.Table(pkgch.TableRecords),
		aux:     ch.Table(pkgch.TableAuxSeries),
		l:       applogger.Nop(),
		now:     time.Now,
	}
}

// SetLogger injects a structured logger.
func (s *CHRecordStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHRecordStore) ListRecords(ctx context.Context, from, to time.Time) ([]models.TrainingRecord, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT %s
        FROM %s FINAL
        WHERE ts >= ? AND ts < ?
        ORDER BY ts ASC
    `, recordColumns, s.records)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse list_records query error", applogger.Error(err))
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]models.TrainingRecord, 0, 1024)
	for rows.Next() {
		var (
			r     models.TrainingRecord
			vals  [14]sql.NullFloat64
			valid uint8
		)
		dest := []any{&r.Timestamp}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &valid)
		if err := rows.Scan(dest...); err != nil {
			s.l.Error("clickhouse list_records scan error", applogger.Error(err))
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		for i := range vals {
			if vals[i].Valid {
				setObserved(&r, i, vals[i].Float64)
			}
		}
		r.Valid = valid == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse list_records ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// setObserved writes the i-th observable in TrainingRecord.Observed order.
func setObserved(r *models.TrainingRecord, i int, v float64) {
	p := models.Float(v)
	switch i {
	case 0:
		r.Price = p
	case 1:
		r.Demand = p
	case 2:
		r.GenCoal = p
	case 3:
		r.GenGas = p
	case 4:
		r.GenNuclear = p
	case 5:
		r.GenHydro = p
	case 6:
		r.GenWind = p
	case 7:
		r.GenSolar = p
	case 8:
		r.GenOther = p
	case 9:
		r.Reserves = p
	case 10:
		r.Interchange = p
	case 11:
		r.Temperature = p
	case 12:
		r.WindSpeed = p
	case 13:
		r.CloudCover = p
	}
}

func (s *CHRecordStore) ListAuxSeries(ctx context.Context, from, to time.Time) ([]models.DailySeries, error) {
	q := fmt.Sprintf(`
        SELECT name, day, value
        FROM %s FINAL
        WHERE day >= toDate(?) AND day < toDate(?)
        ORDER BY name, day
    `, s.aux)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse list_aux query error", applogger.Error(err))
		return nil, fmt.Errorf("list aux series: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*models.DailySeries)
	for rows.Next() {
		var (
			name  string
			day   time.Time
			value float64
		)
		if err := rows.Scan(&name, &day, &value); err != nil {
			return nil, fmt.Errorf("scan aux: %w", err)
		}
		series, ok := byName[name]
		if !ok {
			series = &models.DailySeries{Name: name, Values: make(map[string]float64)}
			byName[name] = series
		}
		series.Values[day.UTC().Format(models.DateLayout)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	out := make([]models.DailySeries, 0, len(byName))
	for _, series := range byName {
		out = append(out, *series)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendRecords rejects non-finite records and inserts the rest in chunks.
func (s *CHRecordStore) AppendRecords(ctx context.Context, records []models.TrainingRecord) (models.BatchReport, error) {
	accepted, report := ValidateRecords(records)
	if len(accepted) == 0 {
		return report, nil
	}

	ingested := s.now().UTC()
	for start := 0; start < len(accepted); start += insertChunk {
		end := min(start+insertChunk, len(accepted))

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*17)
		for _, r := range accepted[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, r.Timestamp.UTC())
			for _, nv := range r.Observed() {
				args = append(args, nv.Value)
			}
			valid := uint8(0)
			if r.Valid {
				valid = 1
			}
			args = append(args, valid, ingested)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s, ingested_at) VALUES %s", s.records, recordColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse append_records error", applogger.Int("rows", end-start), applogger.Error(err))
			return report, fmt.Errorf("insert records: %w", err)
		}
	}
	s.l.Info("records appended",
		applogger.Int("accepted", report.Succeeded),
		applogger.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *CHRecordStore) AppendAuxSeries(ctx context.Context, series models.DailySeries) error {
	if series.Name == "" {
		return fmt.Errorf("aux series name is required")
	}
	days := make([]string, 0, len(series.Values))
	for d, v := range series.Values {
		if !models.IsFinite(v) {
			return fmt.Errorf("aux series %s: non-finite value on %s", series.Name, d)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil
	}
	sort.Strings(days)

	ingested := s.now().UTC()
	values := make([]string, 0, len(days))
	args := make([]any, 0, len(days)*4)
	for _, d := range days {
		day, err := time.Parse(models.DateLayout, d)
		if err != nil {
			return fmt.Errorf("aux series %s: %w", series.Name, err)
		}
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, series.Name, day, series.Values[d], ingested)
	}
	q := fmt.Sprintf("INSERT INTO %s (name, day, value, ingested_at) VALUES %s", s.aux, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert aux series: %w", err)
	}
	return nil
}

// ValidateRecords is the ingestion boundary shared by every record store:
// non-finite values and zero timestamps are rejected per record.
func ValidateRecords(records []models.TrainingRecord) ([]models.TrainingRecord, models.BatchReport) {
	var report models.BatchReport
	out := make([]models.TrainingRecord, 0, len(records))
	for _, r := range records {
		key := r.Timestamp.UTC().Format(time.RFC3339)
		if r.Timestamp.IsZero() {
			report.Fail(key, &models.FeatureDerivationError{Timestamp: r.Timestamp, Field: "timestamp", Reason: "missing"})
			continue
		}
		if field, bad := r.NonFinite(); bad {
			report.Fail(key, &models.FeatureDerivationError{Timestamp: r.Timestamp, Field: field, Reason: "non-finite value"})
			continue
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
		report.Success(key)
	}
	return out, report
}

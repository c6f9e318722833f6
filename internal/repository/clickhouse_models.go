package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	pkgch "GridCast/pkg/clickhouse"
	applogger "GridCast/pkg/logger"
)

// CHModelStore keeps ModelParameters as JSON payload rows. The active
// pointer is a single-slot ReplacingMergeTree row.
type CHModelStore struct {
	db     *sql.DB
	models string
	active string
	l      *applogger.Logger
}

var _ domrepo.ModelStore = (*CHModelStore)(nil)

func NewCHModelStore(ch *pkgch.Client) *CHModelStore {
	return &CHModelStore{
		db:     ch.DB(),
		models: ch.Table(pkgch.TableModels),
		active: ch.Table(pkgch.TableActiveModel),
		l:      applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (s *CHModelStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHModelStore) Save(ctx context.Context, p *models.ModelParameters) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("save model: missing id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", p.ID, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (id, version, model_type, payload, created_at) VALUES (?, ?, ?, ?, ?)", s.models)
	if _, err := s.db.ExecContext(ctx, q, p.ID, p.Version, string(p.ModelType), string(payload), p.CreatedAt.UTC()); err != nil {
		s.l.Error("clickhouse save_model error", applogger.String("id", p.ID), applogger.Error(err))
		return fmt.Errorf("save model %s: %w", p.ID, err)
	}
	return nil
}

func (s *CHModelStore) Get(ctx context.Context, id string) (*models.ModelParameters, error) {
	q := fmt.Sprintf("SELECT payload FROM %s WHERE id = ? LIMIT 1", s.models)
	var payload string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("model %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return decodeModel(payload)
}

func (s *CHModelStore) ListByVersion(ctx context.Context, version string) ([]*models.ModelParameters, error) {
	q := fmt.Sprintf("SELECT payload FROM %s WHERE version = ? ORDER BY created_at ASC, id ASC", s.models)
	rows, err := s.db.QueryContext(ctx, q, version)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*models.ModelParameters
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		p, err := decodeModel(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *CHModelStore) SetActive(ctx context.Context, ptr models.ActivePointer) error {
	q := fmt.Sprintf("INSERT INTO %s (slot, model_version, ensemble_id, updated_at) VALUES (?, ?, ?, ?)", s.active)
	if _, err := s.db.ExecContext(ctx, q, uint8(1), ptr.ModelVersion, ptr.EnsembleID, ptr.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("set active model: %w", err)
	}
	s.l.Info("active model updated",
		applogger.Version(ptr.ModelVersion),
		applogger.String("ensemble_id", ptr.EnsembleID),
	)
	return nil
}

func (s *CHModelStore) Active(ctx context.Context) (models.ActivePointer, error) {
	q := fmt.Sprintf("SELECT model_version, ensemble_id, updated_at FROM %s FINAL WHERE slot = 1 ORDER BY updated_at DESC LIMIT 1", s.active)
	var ptr models.ActivePointer
	err := s.db.QueryRowContext(ctx, q).Scan(&ptr.ModelVersion, &ptr.EnsembleID, &ptr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivePointer{}, models.ErrNoActiveModel
	}
	if err != nil {
		return models.ActivePointer{}, fmt.Errorf("active model: %w", err)
	}
	ptr.UpdatedAt = ptr.UpdatedAt.UTC()
	return ptr, nil
}

func decodeModel(payload string) (*models.ModelParameters, error) {
	var p models.ModelParameters
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return &p, nil
}

// CHTrialStore keeps the trial history and the best-trial pointers.
type CHTrialStore struct {
	db     *sql.DB
	trials string
	best   string
	now    func() time.Time
}

var _ domrepo.TrialStore = (*CHTrialStore)(nil)

func NewCHTrialStore(ch *pkgch.Client) *CHTrialStore {
	return &CHTrialStore{
		db:     ch.DB(),
		trials: ch.Table(pkgch.TableTrials),
		best:   ch.Table(pkgch.TableBestTrials),
		now:    time.Now,
	}
}

const trialColumns = "id, model_version, model_type, trial_number, hyperparameters, mae, rmse, mape, r2, fold_mae, duration_ms, seed, created_at"

func (s *CHTrialStore) Append(ctx context.Context, trials []models.HyperparameterTrial) error {
	if len(trials) == 0 {
		return nil
	}
	values := make([]string, 0, len(trials))
	args := make([]any, 0, len(trials)*13)
	for _, t := range trials {
		hp, err := json.Marshal(t.Hyperparameters)
		if err != nil {
			return fmt.Errorf("encode trial %d: %w", t.TrialNumber, err)
		}
		folds, err := json.Marshal(t.FoldMAE)
		if err != nil {
			return fmt.Errorf("encode trial %d: %w", t.TrialNumber, err)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			t.ID, t.ModelVersion, string(t.ModelType), uint32(t.TrialNumber), string(hp),
			t.Performance.MAE, t.Performance.RMSE, t.Performance.MAPE, t.Performance.R2,
			string(folds), t.Duration.Milliseconds(), t.Seed, t.CreatedAt.UTC(),
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.trials, trialColumns, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("append trials: %w", err)
	}
	return nil
}

// maxTrialHistory bounds an unlimited List call.
const maxTrialHistory = 100000

func (s *CHTrialStore) List(ctx context.Context, version string, limit int) ([]models.HyperparameterTrial, error) {
	if limit <= 0 {
		limit = maxTrialHistory
	}
	bestID, err := s.bestID(ctx, version)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE model_version = ? ORDER BY trial_number ASC LIMIT ?", trialColumns, s.trials)
	rows, err := s.db.QueryContext(ctx, q, version, limit)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()

	var out []models.HyperparameterTrial
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		t.IsBest = t.ID == bestID
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CHTrialStore) Count(ctx context.Context, version string) (int, error) {
	q := fmt.Sprintf("SELECT count() FROM %s WHERE model_version = ?", s.trials)
	var n uint64
	if err := s.db.QueryRowContext(ctx, q, version).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return int(n), nil
}

func (s *CHTrialStore) SetBest(ctx context.Context, version, trialID string) error {
	q := fmt.Sprintf("INSERT INTO %s (model_version, trial_id, updated_at) VALUES (?, ?, ?)", s.best)
	if _, err := s.db.ExecContext(ctx, q, version, trialID, s.now().UTC()); err != nil {
		return fmt.Errorf("set best trial: %w", err)
	}
	return nil
}

func (s *CHTrialStore) Best(ctx context.Context, version string) (*models.HyperparameterTrial, error) {
	id, err := s.bestID(ctx, version)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? LIMIT 1", trialColumns, s.trials)
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("best trial: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("trial %s: %w", id, models.ErrNotFound)
	}
	t, err := scanTrial(rows)
	if err != nil {
		return nil, err
	}
	t.IsBest = true
	return &t, nil
}

func (s *CHTrialStore) bestID(ctx context.Context, version string) (string, error) {
	q := fmt.Sprintf("SELECT trial_id FROM %s FINAL WHERE model_version = ? LIMIT 1", s.best)
	var id string
	err := s.db.QueryRowContext(ctx, q, version).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("best trial for %s: %w", version, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("best trial pointer: %w", err)
	}
	return id, nil
}

func scanTrial(rows *sql.Rows) (models.HyperparameterTrial, error) {
	var (
		t          models.HyperparameterTrial
		mt         string
		number     uint32
		hp, folds  string
		durationMS int64
	)
	if err := rows.Scan(&t.ID, &t.ModelVersion, &mt, &number, &hp,
		&t.Performance.MAE, &t.Performance.RMSE, &t.Performance.MAPE, &t.Performance.R2,
		&folds, &durationMS, &t.Seed, &t.CreatedAt); err != nil {
		return t, fmt.Errorf("scan trial: %w", err)
	}
	t.ModelType = models.ModelType(mt)
	t.TrialNumber = int(number)
	t.Duration = time.Duration(durationMS) * time.Millisecond
	t.CreatedAt = t.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(hp), &t.Hyperparameters); err != nil {
		return t, fmt.Errorf("decode trial %s: %w", t.ID, err)
	}
	if folds != "" {
		if err := json.Unmarshal([]byte(folds), &t.FoldMAE); err != nil {
			return t, fmt.Errorf("decode trial %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// CHSnapshotStore appends performance snapshots.
type CHSnapshotStore struct {
	db    *sql.DB
	table string
}

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)

func NewCHSnapshotStore(ch *pkgch.Client) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB(), table: ch.Table(pkgch.TableSnapshots)}
}

const snapshotColumns = "id, model_version, model_type, split, mae, rmse, mape, smape, sample_count, created_at"

func (s *CHSnapshotStore) Append(ctx context.Context, snaps []models.PerformanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	values := make([]string, 0, len(snaps))
	args := make([]any, 0, len(snaps)*10)
	for _, sn := range snaps {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, sn.ID, sn.ModelVersion, string(sn.ModelType), string(sn.Split),
			sn.MAE, sn.RMSE, sn.MAPE, sn.SMAPE, uint64(sn.SampleCount), sn.CreatedAt.UTC())
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, snapshotColumns, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("append snapshots: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) List(ctx context.Context, f domrepo.SnapshotFilter) ([]models.PerformanceSnapshot, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 1", snapshotColumns, s.table)
	var args []any
	if f.ModelVersion != "" {
		q += " AND model_version = ?"
		args = append(args, f.ModelVersion)
	}
	if f.ModelType != "" {
		q += " AND model_type = ?"
		args = append(args, string(f.ModelType))
	}
	if f.Split != "" {
		q += " AND split = ?"
		args = append(args, string(f.Split))
	}
	if !f.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.Since.UTC())
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceSnapshot
	for rows.Next() {
		var (
			sn     models.PerformanceSnapshot
			mt, sp string
			count  uint64
		)
		if err := rows.Scan(&sn.ID, &sn.ModelVersion, &mt, &sp, &sn.MAE, &sn.RMSE, &sn.MAPE, &sn.SMAPE, &count, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.ModelType = models.ModelType(mt)
		sn.Split = models.Split(sp)
		sn.SampleCount = int(count)
		sn.CreatedAt = sn.CreatedAt.UTC()
		out = append(out, sn)
	}
	return out, rows.Err()
}

package usecase

import (
	"context"
	"fmt"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
	applogger "GridCast/pkg/logger"
)

// IngestUseCase writes raw inputs through the store's validation boundary.
type IngestUseCase struct {
	records domrepo.RecordStore
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewIngestUseCase(records domrepo.RecordStore, metrics domrepo.Metrics, l *applogger.Logger) *IngestUseCase {
	if l == nil {
		l = applogger.Nop()
	}
	return &IngestUseCase{records: records, metrics: metrics, l: l}
}

// Ingest stores the batch. Rejected records are reported, not fatal; an
// invalid aux series fails only itself.
func (uc *IngestUseCase) Ingest(ctx context.Context, batch models.IngestBatch) (models.BatchReport, error) {
	report, err := uc.records.AppendRecords(ctx, batch.Records)
	if err != nil {
		uc.metrics.RecordError("ingest")
		return report, fmt.Errorf("append records: %w", err)
	}
	uc.metrics.RecordRejectedRecords(report.Failed)

	for _, s := range batch.Aux {
		key := "aux:" + s.Name
		if err := uc.records.AppendAuxSeries(ctx, s); err != nil {
			report.Fail(key, err)
			continue
		}
		report.Success(key)
	}
	uc.l.Info("ingest complete",
		applogger.Int("succeeded", report.Succeeded),
		applogger.Int("failed", report.Failed),
	)
	return report, nil
}

package models

// ItemStatus is the outcome of one item in a batch.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult is the outcome of one record or one model in a batch stage.
type ItemResult struct {
	Key    string     `json:"key"`
	Status ItemStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// BatchReport aggregates per-item results so partial failure can be
// inspected by callers.
type BatchReport struct {
	Items     []ItemResult `json:"items,omitempty"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
}

// Success records a successful item. Successful items are counted but not
// listed to keep reports small.
func (r *BatchReport) Success(string) {
	r.Succeeded++
}

// Skip records an item that was deliberately left out.
func (r *BatchReport) Skip(key, reason string) {
	r.Skipped++
	r.Items = append(r.Items, ItemResult{Key: key, Status: ItemSkipped, Reason: reason})
}

// Fail records an item that could not be processed.
func (r *BatchReport) Fail(key string, err error) {
	r.Failed++
	r.Items = append(r.Items, ItemResult{Key: key, Status: ItemFailed, Reason: err.Error()})
}

// Total is the number of items seen.
func (r *BatchReport) Total() int {
	return r.Succeeded + r.Skipped + r.Failed
}

// Merge folds other into r.
func (r *BatchReport) Merge(other BatchReport) {
	r.Succeeded += other.Succeeded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Items = append(r.Items, other.Items...)
}

// IngestBatch is one delivery of raw inputs from an upstream source.
type IngestBatch struct {
	Records []TrainingRecord `json:"records"`
	Aux     []DailySeries    `json:"aux_series"`
}

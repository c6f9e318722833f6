package models

import "time"

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type ForecastRequest struct {
	Hours int `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=168"`
}

type TrialsRequest struct {
	ModelVersion string `query:"model_version" json:"model_version" validate:"required"`
	Limit        int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type SnapshotsRequest struct {
	ModelVersion string `query:"model_version" json:"model_version" validate:"required"`
	Split        string `query:"split" json:"split" validate:"omitempty,oneof=train val test live"`
}

type JobRequest struct {
	Type         string     `param:"type" json:"-" validate:"required,oneof=train tune evaluate drift"`
	ModelVersion string     `json:"model_version"`
	ModelType    string     `json:"model_type" validate:"omitempty,oneof=gbm ridge sequence quantile seasonal"`
	Trials       int        `json:"trials" validate:"gte=0,lte=500"`
	From         *time.Time `json:"from"`
	To           *time.Time `json:"to"`
}

// JobPayload is what the queue carries for every job type.
type JobPayload struct {
	ModelVersion string     `json:"model_version,omitempty"`
	ModelType    string     `json:"model_type,omitempty"`
	Trials       int        `json:"trials,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
}

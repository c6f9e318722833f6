// Package trainers implements the base model families behind the ensemble.
package trainers

import (
	"GridCast/internal/domain/models"
	domsvc "GridCast/internal/domain/service"
)

// Registry resolves trainers by model type.
type Registry struct {
	byType map[models.ModelType]domsvc.Trainer
	order  []domsvc.Trainer
}

// NewRegistry builds the five base trainers in models.BaseModelTypes order.
func NewRegistry(opts Options) *Registry {
	order := []domsvc.Trainer{
		NewGBM(opts),
		NewRidge(opts),
		NewSequence(opts),
		NewQuantile(opts),
		NewSeasonal(opts),
	}
	r := &Registry{byType: make(map[models.ModelType]domsvc.Trainer, len(order)), order: order}
	for _, t := range order {
		r.byType[t.Type()] = t
	}
	return r
}

func (r *Registry) Get(mt models.ModelType) (domsvc.Trainer, bool) {
	t, ok := r.byType[mt]
	return t, ok
}

func (r *Registry) All() []domsvc.Trainer {
	return append([]domsvc.Trainer(nil), r.order...)
}

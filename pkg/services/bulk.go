package services

import (
	"context"
	"log/slog"

	"github.com/labflow/labflow/pkg/models"
)

// BulkRequest asks for the same target status across a batch of objects of
// one kind. LaboratoryID is the laboratory the actor's role set was resolved
// for; every object in the batch must belong to it, and objects owned by
// another laboratory fail closed per item.
type BulkRequest struct {
	Kind         models.Kind
	ObjectIDs    []string
	TargetStatus string
	Actor        string
	ActorRoles   []models.Role
	Comment      string
	LaboratoryID string
}

// BulkFailure records one object that could not be transitioned and why.
type BulkFailure struct {
	ObjectID string `json:"object_id"`
	Reason   string `json:"reason"`
}

// BulkResult partitions a batch into committed and failed objects.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkTransitioner applies one target status across a batch. It owns no
// policy of its own: every object goes through the same Transitioner.Execute
// as a single transition would, in its own critical section.
type BulkTransitioner struct {
	transitioner *Transitioner
	logger       *slog.Logger
}

func NewBulkTransitioner(transitioner *Transitioner, logger *slog.Logger) *BulkTransitioner {
	return &BulkTransitioner{
		transitioner: transitioner,
		logger:       logger.With("module", "bulk"),
	}
}

// ExecuteBulk transitions each object independently and reports a
// per-object partition instead of failing the batch. An ADMIN actor runs
// with Force set, so otherwise-illegal transitions are applied and marked
// forced in the audit trail; for everyone else a failing object lands in
// Failed with its reason and the iteration moves on. Objects already
// committed stay committed regardless of later failures.
func (b *BulkTransitioner) ExecuteBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	force := models.IsAdmin(req.ActorRoles)

	result := &BulkResult{
		Succeeded: make([]string, 0, len(req.ObjectIDs)),
		Failed:    make([]BulkFailure, 0),
	}

	for _, objectID := range req.ObjectIDs {
		_, err := b.transitioner.Execute(ctx, TransitionRequest{
			Kind:         req.Kind,
			ObjectID:     objectID,
			TargetStatus: req.TargetStatus,
			Actor:        req.Actor,
			ActorRoles:   req.ActorRoles,
			Comment:      req.Comment,
			LaboratoryID: req.LaboratoryID,
			Force:        force,
		})
		if err != nil {
			b.logger.InfoContext(ctx, "Bulk transition item failed",
				"kind", req.Kind, "object_id", objectID, "target", req.TargetStatus, "error", err)

			result.Failed = append(result.Failed, BulkFailure{ObjectID: objectID, Reason: err.Error()})

			continue
		}

		result.Succeeded = append(result.Succeeded, objectID)
	}

	return result, nil
}

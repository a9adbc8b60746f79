package consultation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	BulkArchive        = "archive"
	BulkUpdateStatus   = "updateStatus"
	BulkUpdatePriority = "updatePriority"
	BulkAddTag         = "addTag"
)

// BulkData carries the payload for a bulk operation. Which field is required
// depends on the operation.
type BulkData struct {
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// BulkResult reports per-record classification. Failed holds records for
// which the operation had no applicable payload, plus ids the owner does not
// hold; a store-level commit failure surfaces as an error for the whole
// batch instead.
type BulkResult struct {
	Succeeded []uuid.UUID `json:"succeeded"`
	Failed    []uuid.UUID `json:"failed"`
}

// BulkUpdate applies one metadata operation across the owner's consultations
// in a single transaction. Ids outside the owner's set, unknown or belonging
// to someone else, are classified failed without ever reaching the store.
func (s *Service) BulkUpdate(ctx context.Context, ownerID string, ids []uuid.UUID, operation string, data BulkData) (*BulkResult, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one consultation id is required", ErrValidation)
	}

	patch, err := bulkPatch(operation, data)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		// Payload missing for the requested operation: nothing is applicable,
		// so every record is classified failed and no batch is submitted.
		return &BulkResult{Failed: ids}, nil
	}

	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	owned := make(map[uuid.UUID]bool, len(items))
	for _, c := range items {
		owned[c.ID] = true
	}

	result := &BulkResult{}
	for _, id := range ids {
		if owned[id] {
			result.Succeeded = append(result.Succeeded, id)
		} else {
			result.Failed = append(result.Failed, id)
		}
	}
	if len(result.Succeeded) == 0 {
		return result, nil
	}

	if err := s.repo.PatchMetadataBatch(ctx, result.Succeeded, *patch); err != nil {
		return nil, err
	}
	return result, nil
}

// bulkPatch translates an operation into a metadata patch. A nil patch with
// nil error means the payload was missing; an error means the operation or
// payload value is invalid.
func bulkPatch(operation string, data BulkData) (*MetadataPatch, error) {
	switch operation {
	case BulkArchive:
		status := StatusArchived
		return &MetadataPatch{Status: &status}, nil

	case BulkUpdateStatus:
		if data.Status == "" {
			return nil, nil
		}
		if !validStatuses[data.Status] {
			return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, data.Status)
		}
		status := data.Status
		return &MetadataPatch{Status: &status}, nil

	case BulkUpdatePriority:
		if data.Priority == "" {
			return nil, nil
		}
		if !validPriorities[data.Priority] {
			return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, data.Priority)
		}
		priority := data.Priority
		return &MetadataPatch{Priority: &priority}, nil

	case BulkAddTag:
		if data.Tag == "" {
			return nil, nil
		}
		return &MetadataPatch{AddTags: []string{data.Tag}}, nil

	default:
		return nil, fmt.Errorf("%w: invalid operation %q", ErrValidation, operation)
	}
}

package consultation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists consultation documents. Implementations must provide
// document-level atomicity for single-document updates and all-or-nothing
// semantics for the batch operations.
type Repository interface {
	Create(ctx context.Context, ownerID string) (*Consultation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Consultation, error)
	// AppendMessage appends the already-stamped message, bumps updated_at
	// and lastActionDate to its timestamp, and applies newTitle when non-nil.
	AppendMessage(ctx context.Context, id uuid.UUID, msg Message, newTitle *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteBatch removes all given consultations in one transaction.
	DeleteBatch(ctx context.Context, ids []uuid.UUID) error
	// PatchMetadata merges the patch into the stored metadata, bumping
	// updated_at and lastActionDate unless the patch sets it explicitly.
	PatchMetadata(ctx context.Context, id uuid.UUID, patch MetadataPatch) error
	// PatchMetadataBatch applies one patch to many consultations in a single
	// transaction. Ids missing from the store are skipped, not failed.
	PatchMetadataBatch(ctx context.Context, ids []uuid.UUID, patch MetadataPatch) error
	Search(ctx context.Context, ownerID string, filter SearchFilter) ([]*Consultation, error)
}

type SOAPNoteRepository interface {
	Create(ctx context.Context, note *SOAPNote) error
	// LatestByConsultation returns the most recent note by generatedAt.
	LatestByConsultation(ctx context.Context, consultationID uuid.UUID) (*SOAPNote, error)
}

type ReferralRepository interface {
	Create(ctx context.Context, ref *Referral) error
	// ListByConsultation returns referrals ordered by createdAt descending.
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Referral, error)
}

type FollowUpRepository interface {
	Create(ctx context.Context, fu *FollowUp) error
	// ListByConsultation returns follow-ups ordered by createdAt descending.
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*FollowUp, error)
}

package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const titleMaxLen = 30

type Service struct {
	repo      Repository
	soapNotes SOAPNoteRepository
	referrals ReferralRepository
	followUps FollowUpRepository
}

func NewService(repo Repository, soapNotes SOAPNoteRepository, referrals ReferralRepository, followUps FollowUpRepository) *Service {
	return &Service{
		repo:      repo,
		soapNotes: soapNotes,
		referrals: referrals,
		followUps: followUps,
	}
}

func (s *Service) CreateConsultation(ctx context.Context, ownerID string) (*Consultation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	return s.repo.Create(ctx, ownerID)
}

func (s *Service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListConsultations(ctx context.Context, ownerID string) ([]*Consultation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	return s.repo.ListByOwner(ctx, ownerID)
}

// AppendMessage appends one transcript turn. The timestamp is stamped here,
// before the write, so the returned message is exactly what was stored.
// Patient-authored non-empty messages also retitle the consultation from
// their first 30 characters; assistant messages never touch the title.
func (s *Service) AppendMessage(ctx context.Context, id uuid.UUID, text, sender string) (Message, error) {
	if !validSenders[sender] {
		return Message{}, fmt.Errorf("%w: invalid sender %q", ErrValidation, sender)
	}

	msg := Message{Text: text, Sender: sender, Timestamp: time.Now()}

	var newTitle *string
	if sender == SenderPatient && strings.TrimSpace(text) != "" {
		title := truncateTitle(text)
		newTitle = &title
	}

	if err := s.repo.AppendMessage(ctx, id, msg, newTitle); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func truncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxLen {
		return text
	}
	return string(runes[:titleMaxLen]) + "..."
}

func (s *Service) DeleteConsultation(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// CleanupEmpty deletes every consultation of the owner with zero messages as
// one atomic batch and returns how many were removed.
func (s *Service) CleanupEmpty(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	var empty []uuid.UUID
	for _, c := range items {
		if len(c.Messages) == 0 {
			empty = append(empty, c.ID)
		}
	}
	if len(empty) == 0 {
		return 0, nil
	}
	if err := s.repo.DeleteBatch(ctx, empty); err != nil {
		return 0, err
	}
	return len(empty), nil
}

func (s *Service) UpdateMetadata(ctx context.Context, id uuid.UUID, patch MetadataPatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	return s.repo.PatchMetadata(ctx, id, patch)
}

func validatePatch(patch MetadataPatch) error {
	if patch.Status != nil && !validStatuses[*patch.Status] {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, *patch.Status)
	}
	if patch.Priority != nil && !validPriorities[*patch.Priority] {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, *patch.Priority)
	}
	return nil
}

// SaveSOAPNote inserts the note and then flags the consultation. The two
// writes are not transactional: a failure in between leaves an orphaned note,
// which is harmless because reads always resolve the latest note by
// generatedAt rather than trusting the flag.
func (s *Service) SaveSOAPNote(ctx context.Context, note *SOAPNote) error {
	if note.ConsultationID == uuid.Nil {
		return fmt.Errorf("%w: consultation id is required", ErrValidation)
	}
	if err := s.soapNotes.Create(ctx, note); err != nil {
		return fmt.Errorf("save soap note: %w", err)
	}

	generated := true
	return s.repo.PatchMetadata(ctx, note.ConsultationID, MetadataPatch{SOAPGenerated: &generated})
}

func (s *Service) GetSOAPNote(ctx context.Context, consultationID uuid.UUID) (*SOAPNote, error) {
	return s.soapNotes.LatestByConsultation(ctx, consultationID)
}

// CreateReferral inserts the referral and unions its id into the
// consultation metadata. The union is idempotent so replays never duplicate.
func (s *Service) CreateReferral(ctx context.Context, ref *Referral) error {
	if ref.ConsultationID == uuid.Nil {
		return fmt.Errorf("%w: consultation id is required", ErrValidation)
	}
	if ref.Urgency == "" {
		ref.Urgency = UrgencyRoutine
	}
	if ref.Urgency != UrgencyRoutine && ref.Urgency != UrgencyUrgent {
		return fmt.Errorf("%w: invalid urgency %q", ErrValidation, ref.Urgency)
	}
	if ref.Status == "" {
		ref.Status = ReferralPending
	}

	if err := s.referrals.Create(ctx, ref); err != nil {
		return fmt.Errorf("save referral: %w", err)
	}

	return s.repo.PatchMetadata(ctx, ref.ConsultationID, MetadataPatch{
		AddReferrals: []string{ref.ID.String()},
	})
}

func (s *Service) GetReferrals(ctx context.Context, consultationID uuid.UUID) ([]*Referral, error) {
	return s.referrals.ListByConsultation(ctx, consultationID)
}

func (s *Service) CreateFollowUp(ctx context.Context, fu *FollowUp) error {
	if fu.ConsultationID == uuid.Nil {
		return fmt.Errorf("%w: consultation id is required", ErrValidation)
	}
	if !validFollowUpTypes[fu.Type] {
		return fmt.Errorf("%w: invalid follow-up type %q", ErrValidation, fu.Type)
	}
	if fu.Status == "" {
		fu.Status = FollowUpScheduled
	}
	if !validFollowUpStatuses[fu.Status] {
		return fmt.Errorf("%w: invalid follow-up status %q", ErrValidation, fu.Status)
	}

	if err := s.followUps.Create(ctx, fu); err != nil {
		return fmt.Errorf("save follow-up: %w", err)
	}

	return s.repo.PatchMetadata(ctx, fu.ConsultationID, MetadataPatch{
		AddFollowUps: []string{fu.ID.String()},
	})
}

func (s *Service) GetFollowUps(ctx context.Context, consultationID uuid.UUID) ([]*FollowUp, error) {
	return s.followUps.ListByConsultation(ctx, consultationID)
}

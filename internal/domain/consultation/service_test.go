package consultation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ---- in-memory mocks ----

type mockRepo struct {
	items map[uuid.UUID]*Consultation

	deleteBatchErr error
	patchBatchErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Consultation)}
}

func (m *mockRepo) Create(ctx context.Context, ownerID string) (*Consultation, error) {
	now := time.Now()
	c := &Consultation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     DefaultTitle,
		Messages:  []Message{},
		Metadata:  defaultMetadata(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.items[c.ID] = c
	return c, nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *mockRepo) ListByOwner(ctx context.Context, ownerID string) ([]*Consultation, error) {
	var out []*Consultation
	for _, c := range m.items {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *mockRepo) AppendMessage(ctx context.Context, id uuid.UUID, msg Message, newTitle *string) error {
	c, ok := m.items[id]
	if !ok {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	c.Messages = append(c.Messages, msg)
	if newTitle != nil {
		c.Title = *newTitle
	}
	c.UpdatedAt = msg.Timestamp
	c.Metadata = applyPatch(c.Metadata, MetadataPatch{}, msg.Timestamp)
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) DeleteBatch(ctx context.Context, ids []uuid.UUID) error {
	if m.deleteBatchErr != nil {
		return m.deleteBatchErr
	}
	for _, id := range ids {
		delete(m.items, id)
	}
	return nil
}

func (m *mockRepo) PatchMetadata(ctx context.Context, id uuid.UUID, patch MetadataPatch) error {
	c, ok := m.items[id]
	if !ok {
		return fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	now := time.Now()
	c.Metadata = applyPatch(c.Metadata, patch, now)
	c.UpdatedAt = now
	return nil
}

func (m *mockRepo) PatchMetadataBatch(ctx context.Context, ids []uuid.UUID, patch MetadataPatch) error {
	if m.patchBatchErr != nil {
		return m.patchBatchErr
	}
	for _, id := range ids {
		if _, ok := m.items[id]; !ok {
			continue // missing ids commit as no-ops
		}
		if err := m.PatchMetadata(ctx, id, patch); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockRepo) Search(ctx context.Context, ownerID string, filter SearchFilter) ([]*Consultation, error) {
	var out []*Consultation
	for _, c := range m.items {
		if c.OwnerID != ownerID || !matchesFilter(c, filter) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return lastAction(out[i]).After(lastAction(out[j]))
	})
	return out, nil
}

func lastAction(c *Consultation) time.Time {
	if c.Metadata == nil {
		return time.Time{}
	}
	return c.Metadata.LastActionDate
}

func matchesFilter(c *Consultation, f SearchFilter) bool {
	meta := c.Metadata
	if meta == nil {
		meta = &Metadata{}
	}
	if f.Status != "" && meta.Status != f.Status {
		return false
	}
	if f.Priority != "" && meta.Priority != f.Priority {
		return false
	}
	if f.Category != "" && meta.Category != f.Category {
		return false
	}
	if len(f.Tags) > 0 {
		any := false
		for _, want := range f.Tags {
			for _, have := range meta.Tags {
				if want == have {
					any = true
				}
			}
		}
		if !any {
			return false
		}
	}
	if f.ActionAfter != nil && meta.LastActionDate.Before(*f.ActionAfter) {
		return false
	}
	if f.ActionBefore != nil && meta.LastActionDate.After(*f.ActionBefore) {
		return false
	}
	return true
}

type mockSOAPRepo struct {
	notes     []*SOAPNote
	createErr error
}

func (m *mockSOAPRepo) Create(ctx context.Context, note *SOAPNote) error {
	if m.createErr != nil {
		return m.createErr
	}
	note.ID = uuid.New()
	if note.GeneratedAt.IsZero() {
		note.GeneratedAt = time.Now()
	}
	m.notes = append(m.notes, note)
	return nil
}

func (m *mockSOAPRepo) LatestByConsultation(ctx context.Context, consultationID uuid.UUID) (*SOAPNote, error) {
	var latest *SOAPNote
	for _, n := range m.notes {
		if n.ConsultationID != consultationID {
			continue
		}
		if latest == nil || n.GeneratedAt.After(latest.GeneratedAt) {
			latest = n
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("soap note for %s: %w", consultationID, ErrNotFound)
	}
	return latest, nil
}

type mockReferralRepo struct {
	referrals []*Referral
}

func (m *mockReferralRepo) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}
	m.referrals = append(m.referrals, ref)
	return nil
}

func (m *mockReferralRepo) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Referral, error) {
	var out []*Referral
	for _, r := range m.referrals {
		if r.ConsultationID == consultationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type mockFollowUpRepo struct {
	followUps []*FollowUp
}

func (m *mockFollowUpRepo) Create(ctx context.Context, fu *FollowUp) error {
	fu.ID = uuid.New()
	if fu.CreatedAt.IsZero() {
		fu.CreatedAt = time.Now()
	}
	m.followUps = append(m.followUps, fu)
	return nil
}

func (m *mockFollowUpRepo) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*FollowUp, error) {
	var out []*FollowUp
	for _, f := range m.followUps {
		if f.ConsultationID == consultationID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type testMocks struct {
	repo      *mockRepo
	soap      *mockSOAPRepo
	referrals *mockReferralRepo
	followUps *mockFollowUpRepo
}

func newTestService() (*Service, *testMocks) {
	m := &testMocks{
		repo:      newMockRepo(),
		soap:      &mockSOAPRepo{},
		referrals: &mockReferralRepo{},
		followUps: &mockFollowUpRepo{},
	}
	return NewService(m.repo, m.soap, m.referrals, m.followUps), m
}

// ---- tests ----

func TestCreateConsultation_Defaults(t *testing.T) {
	svc, _ := newTestService()

	c, err := svc.CreateConsultation(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("CreateConsultation() error: %v", err)
	}

	if c.Title != DefaultTitle {
		t.Errorf("expected default title, got %q", c.Title)
	}
	if len(c.Messages) != 0 {
		t.Errorf("expected empty messages, got %d", len(c.Messages))
	}
	meta := c.Metadata
	if meta == nil {
		t.Fatal("expected default metadata")
	}
	if meta.Status != StatusNew || meta.Priority != PriorityMedium || meta.Category != DefaultCategory {
		t.Errorf("unexpected defaults: %+v", meta)
	}
	if meta.SOAPGenerated {
		t.Error("expected soapGenerated false on creation")
	}
}

func TestCreateConsultation_MissingOwner(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.CreateConsultation(context.Background(), ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendMessage_PatientRetitles(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")
	before := c.UpdatedAt
	beforeAction := c.Metadata.LastActionDate

	long := "I have had a persistent cough and fever for three days"
	msg, err := svc.AppendMessage(context.Background(), c.ID, long, SenderPatient)
	if err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected service-stamped timestamp")
	}

	stored := m.repo.items[c.ID]
	if len(stored.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(stored.Messages))
	}
	if !stored.Messages[0].Timestamp.Equal(msg.Timestamp) {
		t.Errorf("expected returned timestamp %v to match stored %v",
			msg.Timestamp, stored.Messages[0].Timestamp)
	}
	want := string([]rune(long)[:30]) + "..."
	if stored.Title != want {
		t.Errorf("expected title %q, got %q", want, stored.Title)
	}
	if stored.UpdatedAt.Before(before) {
		t.Error("expected updatedAt to be refreshed")
	}
	if stored.Metadata.LastActionDate.Before(beforeAction) {
		t.Error("expected lastActionDate to be refreshed")
	}
}

func TestAppendMessage_ShortPatientMessageKeepsFullText(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	if _, err := svc.AppendMessage(context.Background(), c.ID, "My head hurts", SenderPatient); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if got := m.repo.items[c.ID].Title; got != "My head hurts" {
		t.Errorf("expected untruncated title, got %q", got)
	}
}

func TestAppendMessage_AssistantNeverRetitles(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	if _, err := svc.AppendMessage(context.Background(), c.ID, "How long have you had the symptoms?", SenderAssistant); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if got := m.repo.items[c.ID].Title; got != DefaultTitle {
		t.Errorf("expected title unchanged, got %q", got)
	}
}

func TestAppendMessage_BlankPatientMessageKeepsTitle(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	if _, err := svc.AppendMessage(context.Background(), c.ID, "   ", SenderPatient); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if got := m.repo.items[c.ID].Title; got != DefaultTitle {
		t.Errorf("expected title unchanged for blank message, got %q", got)
	}
}

func TestAppendMessage_InvalidSender(t *testing.T) {
	svc, _ := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	if _, err := svc.AppendMessage(context.Background(), c.ID, "hello", "doctor"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCleanupEmpty_DeletesOnlyEmpty(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	empty1, _ := svc.CreateConsultation(ctx, "patient-1")
	empty2, _ := svc.CreateConsultation(ctx, "patient-1")
	active, _ := svc.CreateConsultation(ctx, "patient-1")
	svc.AppendMessage(ctx, active.ID, "I feel dizzy", SenderPatient)
	other, _ := svc.CreateConsultation(ctx, "patient-2")

	deleted, err := svc.CleanupEmpty(ctx, "patient-1")
	if err != nil {
		t.Fatalf("CleanupEmpty() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deletions, got %d", deleted)
	}
	if _, ok := m.repo.items[empty1.ID]; ok {
		t.Error("expected empty consultation 1 deleted")
	}
	if _, ok := m.repo.items[empty2.ID]; ok {
		t.Error("expected empty consultation 2 deleted")
	}
	if _, ok := m.repo.items[active.ID]; !ok {
		t.Error("expected active consultation kept")
	}
	if _, ok := m.repo.items[other.ID]; !ok {
		t.Error("expected other owner's consultation kept")
	}
}

func TestCleanupEmpty_AllOrNothing(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	svc.CreateConsultation(ctx, "patient-1")
	svc.CreateConsultation(ctx, "patient-1")
	m.repo.deleteBatchErr = errors.New("commit failed")

	if _, err := svc.CleanupEmpty(ctx, "patient-1"); err == nil {
		t.Fatal("expected batch failure to surface")
	}
	if len(m.repo.items) != 2 {
		t.Errorf("expected zero deletions on failed commit, kept %d", len(m.repo.items))
	}
}

func TestUpdateMetadata_InvalidStatus(t *testing.T) {
	svc, _ := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	bad := "open"
	err := svc.UpdateMetadata(context.Background(), c.ID, MetadataPatch{Status: &bad})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateMetadata_MergesAndBumps(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")
	before := m.repo.items[c.ID].Metadata.LastActionDate

	status := StatusInProgress
	if err := svc.UpdateMetadata(context.Background(), c.ID, MetadataPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateMetadata() error: %v", err)
	}

	meta := m.repo.items[c.ID].Metadata
	if meta.Status != StatusInProgress {
		t.Errorf("expected status updated, got %q", meta.Status)
	}
	if meta.Priority != PriorityMedium || meta.Category != DefaultCategory {
		t.Error("expected unspecified fields untouched")
	}
	if meta.LastActionDate.Before(before) {
		t.Error("expected lastActionDate bumped")
	}
}

func TestUpdateMetadata_ExplicitLastActionDate(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	pinned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := svc.UpdateMetadata(context.Background(), c.ID, MetadataPatch{LastActionDate: &pinned}); err != nil {
		t.Fatalf("UpdateMetadata() error: %v", err)
	}
	if got := m.repo.items[c.ID].Metadata.LastActionDate; !got.Equal(pinned) {
		t.Errorf("expected explicit lastActionDate %v, got %v", pinned, got)
	}
}

func TestSaveSOAPNote_SetsFlag(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	note := &SOAPNote{
		ConsultationID: c.ID,
		PatientID:      "patient-1",
		Subjective:     "Cough",
		Objective:      "Virtual visit",
		Assessment:     "Likely viral",
		Plan:           []string{"Rest", "Hydrate"},
	}
	if err := svc.SaveSOAPNote(context.Background(), note); err != nil {
		t.Fatalf("SaveSOAPNote() error: %v", err)
	}

	if !m.repo.items[c.ID].Metadata.SOAPGenerated {
		t.Error("expected soapGenerated true after save")
	}
	if len(m.soap.notes) != 1 {
		t.Fatalf("expected 1 stored note, got %d", len(m.soap.notes))
	}
}

func TestGetSOAPNote_LatestWins(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	old := &SOAPNote{ConsultationID: c.ID, Subjective: "old", GeneratedAt: time.Now().Add(-time.Hour)}
	newer := &SOAPNote{ConsultationID: c.ID, Subjective: "new", GeneratedAt: time.Now()}
	m.soap.notes = append(m.soap.notes, old, newer)

	got, err := svc.GetSOAPNote(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetSOAPNote() error: %v", err)
	}
	if got.Subjective != "new" {
		t.Errorf("expected latest note, got %q", got.Subjective)
	}
}

func TestGetSOAPNote_Absent(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.GetSOAPNote(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCreateReferral_DefaultsAndLink(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	ref := &Referral{ConsultationID: c.ID, PatientID: "patient-1", ReferralTo: "Cardiology"}
	if err := svc.CreateReferral(context.Background(), ref); err != nil {
		t.Fatalf("CreateReferral() error: %v", err)
	}

	if ref.Urgency != UrgencyRoutine {
		t.Errorf("expected urgency defaulted to routine, got %q", ref.Urgency)
	}
	if ref.Status != ReferralPending {
		t.Errorf("expected status pending, got %q", ref.Status)
	}

	meta := m.repo.items[c.ID].Metadata
	if len(meta.Referrals) != 1 || meta.Referrals[0] != ref.ID.String() {
		t.Errorf("expected referral id linked into metadata, got %v", meta.Referrals)
	}
}

func TestReferralLink_IdempotentUnion(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()
	c, _ := svc.CreateConsultation(ctx, "patient-1")

	id := uuid.New().String()
	patch := MetadataPatch{AddReferrals: []string{id}}
	if err := m.repo.PatchMetadata(ctx, c.ID, patch); err != nil {
		t.Fatal(err)
	}
	if err := m.repo.PatchMetadata(ctx, c.ID, patch); err != nil {
		t.Fatal(err)
	}

	meta := m.repo.items[c.ID].Metadata
	if len(meta.Referrals) != 1 {
		t.Errorf("expected exactly one referral id after replay, got %v", meta.Referrals)
	}
}

func TestCreateFollowUp_Validation(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	bad := &FollowUp{ConsultationID: c.ID, Type: "phone-call"}
	if err := svc.CreateFollowUp(context.Background(), bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad type, got %v", err)
	}

	good := &FollowUp{ConsultationID: c.ID, PatientID: "patient-1", Type: "lab-results", Reason: "CBC panel"}
	if err := svc.CreateFollowUp(context.Background(), good); err != nil {
		t.Fatalf("CreateFollowUp() error: %v", err)
	}
	if good.Status != FollowUpScheduled {
		t.Errorf("expected scheduled status, got %q", good.Status)
	}
	meta := m.repo.items[c.ID].Metadata
	if len(meta.FollowUps) != 1 || meta.FollowUps[0] != good.ID.String() {
		t.Errorf("expected follow-up id linked into metadata, got %v", meta.FollowUps)
	}
}

func TestGetReferrals_OrderedNewestFirst(t *testing.T) {
	svc, m := newTestService()
	c, _ := svc.CreateConsultation(context.Background(), "patient-1")

	m.referrals.referrals = append(m.referrals.referrals,
		&Referral{ID: uuid.New(), ConsultationID: c.ID, ReferralTo: "older", CreatedAt: time.Now().Add(-time.Hour)},
		&Referral{ID: uuid.New(), ConsultationID: c.ID, ReferralTo: "newer", CreatedAt: time.Now()},
	)

	items, err := svc.GetReferrals(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetReferrals() error: %v", err)
	}
	if len(items) != 2 || items[0].ReferralTo != "newer" {
		t.Errorf("expected newest first, got %v", items)
	}
}

func TestTruncateTitle(t *testing.T) {
	if got := truncateTitle("short"); got != "short" {
		t.Errorf("expected passthrough, got %q", got)
	}
	long := strings.Repeat("a", 31)
	if got := truncateTitle(long); got != strings.Repeat("a", 30)+"..." {
		t.Errorf("unexpected truncation: %q", got)
	}
}

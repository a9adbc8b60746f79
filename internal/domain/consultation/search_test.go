package consultation

import (
	"context"
	"testing"
	"time"
)

func seedConsultation(t *testing.T, svc *Service, m *testMocks, owner, firstMessage string, patch MetadataPatch) *Consultation {
	t.Helper()
	ctx := context.Background()
	c, err := svc.CreateConsultation(ctx, owner)
	if err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if firstMessage != "" {
		if _, err := svc.AppendMessage(ctx, c.ID, firstMessage, SenderPatient); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}
	if !patch.IsZero() {
		if err := m.repo.PatchMetadata(ctx, c.ID, patch); err != nil {
			t.Fatalf("seed patch: %v", err)
		}
	}
	return m.repo.items[c.ID]
}

func strptr(s string) *string { return &s }

func TestSearch_TermMatchesTitleAndMessages(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	completed := MetadataPatch{Status: strptr(StatusCompleted)}
	hit1 := seedConsultation(t, svc, m, "patient-1", "I have a terrible HEADACHE today", completed)
	seedConsultation(t, svc, m, "patient-1", "My knee hurts", completed)
	hit2 := seedConsultation(t, svc, m, "patient-1", "headache again, worse at night", completed)
	seedConsultation(t, svc, m, "patient-2", "headache", completed)

	items, err := svc.Search(ctx, "patient-1", "headache", SearchFilter{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(items))
	}
	found := map[string]bool{}
	for _, c := range items {
		found[c.ID.String()] = true
	}
	if !found[hit1.ID.String()] || !found[hit2.ID.String()] {
		t.Errorf("expected both headache consultations, got %v", found)
	}
}

func TestSearch_OrderedByLastActionDesc(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Minute)
	first := seedConsultation(t, svc, m, "patient-1", "cough", MetadataPatch{LastActionDate: &older})
	second := seedConsultation(t, svc, m, "patient-1", "cough at night", MetadataPatch{LastActionDate: &newer})

	items, err := svc.Search(ctx, "patient-1", "cough", SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 results, got %d", len(items))
	}
	if items[0].ID != second.ID || items[1].ID != first.ID {
		t.Error("expected results ordered by lastActionDate descending")
	}
}

func TestSearch_ConjunctiveFiltersAndTags(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	match := seedConsultation(t, svc, m, "patient-1", "fever", MetadataPatch{
		Status:   strptr(StatusInProgress),
		Priority: strptr(PriorityHigh),
		AddTags:  []string{"respiratory", "fever"},
	})
	seedConsultation(t, svc, m, "patient-1", "fever", MetadataPatch{
		Status:  strptr(StatusInProgress),
		AddTags: []string{"dermatology"},
	})
	seedConsultation(t, svc, m, "patient-1", "fever", MetadataPatch{
		Status:   strptr(StatusCompleted),
		Priority: strptr(PriorityHigh),
		AddTags:  []string{"respiratory"},
	})

	items, err := svc.Search(ctx, "patient-1", "", SearchFilter{
		Status:   StatusInProgress,
		Priority: PriorityHigh,
		Tags:     []string{"respiratory", "cardiac"},
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(items) != 1 || items[0].ID != match.ID {
		t.Errorf("expected the single conjunctive match, got %d results", len(items))
	}
}

func TestSearch_DateRangeInclusive(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	inRange := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	outOfRange := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	want := seedConsultation(t, svc, m, "patient-1", "rash", MetadataPatch{LastActionDate: &inRange})
	seedConsultation(t, svc, m, "patient-1", "rash", MetadataPatch{LastActionDate: &outOfRange})

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	items, err := svc.Search(ctx, "patient-1", "", SearchFilter{ActionAfter: &from, ActionBefore: &to})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(items) != 1 || items[0].ID != want.ID {
		t.Errorf("expected only the in-range consultation, got %d", len(items))
	}
}

func TestAnalytics_Aggregates(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	generated := true
	seedConsultation(t, svc, m, "patient-1", "cough", MetadataPatch{
		Status:        strptr(StatusCompleted),
		SOAPGenerated: &generated,
		AddReferrals:  []string{"ref-1", "ref-2"},
	})
	seedConsultation(t, svc, m, "patient-1", "fever", MetadataPatch{
		Status:       strptr(StatusInProgress),
		Priority:     strptr(PriorityHigh),
		Category:     strptr("Cardiology"),
		AddFollowUps: []string{"fu-1"},
	})
	old := seedConsultation(t, svc, m, "patient-1", "", MetadataPatch{})
	old.CreatedAt = time.Now().AddDate(0, 0, -30)
	seedConsultation(t, svc, m, "patient-2", "other owner", MetadataPatch{})

	stats, err := svc.Analytics(ctx, "patient-1")
	if err != nil {
		t.Fatalf("Analytics() error: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.RecentCount != 2 {
		t.Errorf("expected 2 recent, got %d", stats.RecentCount)
	}
	if stats.SOAPGenerated != 1 {
		t.Errorf("expected 1 soapGenerated, got %d", stats.SOAPGenerated)
	}
	if stats.Referrals != 2 {
		t.Errorf("expected 2 referrals, got %d", stats.Referrals)
	}
	if stats.FollowUps != 1 {
		t.Errorf("expected 1 follow-up, got %d", stats.FollowUps)
	}
	if stats.ByStatus[StatusCompleted] != 1 || stats.ByStatus[StatusInProgress] != 1 {
		t.Errorf("unexpected status breakdown: %v", stats.ByStatus)
	}
	if stats.ByCategory["Cardiology"] != 1 || stats.ByCategory[DefaultCategory] != 2 {
		t.Errorf("unexpected category breakdown: %v", stats.ByCategory)
	}
	if stats.ByPriority[PriorityHigh] != 1 || stats.ByPriority[PriorityMedium] != 2 {
		t.Errorf("unexpected priority breakdown: %v", stats.ByPriority)
	}
}

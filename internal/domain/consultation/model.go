package consultation

import (
	"time"

	"github.com/google/uuid"
)

const (
	SenderPatient   = "patient"
	SenderAssistant = "assistant"
)

const (
	StatusNew        = "new"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusArchived   = "archived"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	UrgencyRoutine = "routine"
	UrgencyUrgent  = "urgent"
)

const (
	ReferralPending   = "pending"
	ReferralSent      = "sent"
	ReferralCompleted = "completed"
)

const (
	FollowUpScheduled = "scheduled"
	FollowUpCompleted = "completed"
	FollowUpCancelled = "cancelled"
)

const (
	DefaultCategory = "General"
	DefaultTitle    = "New Consultation"
)

var validStatuses = map[string]bool{
	StatusNew: true, StatusInProgress: true, StatusCompleted: true, StatusArchived: true,
}

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityUrgent: true,
}

var validSenders = map[string]bool{
	SenderPatient: true, SenderAssistant: true,
}

var validFollowUpTypes = map[string]bool{
	"follow-up": true, "lab-results": true, "medication-check": true, "specialist-consultation": true,
}

var validFollowUpStatuses = map[string]bool{
	FollowUpScheduled: true, FollowUpCompleted: true, FollowUpCancelled: true,
}

// Message is a single turn in a consultation transcript. Timestamp is set by
// the service at write time, never by the caller.
type Message struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata carries the triage and search state of a consultation.
type Metadata struct {
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	Category       string    `json:"category"`
	Tags           []string  `json:"tags"`
	SOAPGenerated  bool      `json:"soapGenerated"`
	LastActionDate time.Time `json:"lastActionDate"`
	Referrals      []string  `json:"referrals"`
	FollowUps      []string  `json:"followUps"`
}

// Consultation is a persisted patient conversation. Messages are append-only
// and chronological; title is derived from the first 30 characters of the
// latest patient message.
type Consultation struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SOAPNote is a four-section clinical note derived from a transcript.
// UsedFallback marks notes synthesized from boilerplate after an unparsable
// model response.
type SOAPNote struct {
	ID             uuid.UUID `json:"id"`
	ConsultationID uuid.UUID `json:"consultationId"`
	PatientID      string    `json:"patientId"`
	Subjective     string    `json:"subjective"`
	Objective      string    `json:"objective"`
	Assessment     string    `json:"assessment"`
	Plan           []string  `json:"plan"`
	GeneratedAt    time.Time `json:"generatedAt"`
	UsedFallback   bool      `json:"usedFallback"`
}

// Referral routes a patient to a specialist. Urgency is a closed two-value
// enum; anything else is coerced to routine before the record is created.
type Referral struct {
	ID              uuid.UUID `json:"id"`
	ConsultationID  uuid.UUID `json:"consultationId"`
	PatientID       string    `json:"patientId"`
	ReferralTo      string    `json:"referralTo"`
	Urgency         string    `json:"urgency"`
	Reason          string    `json:"reason"`
	Symptoms        []string  `json:"symptoms"`
	ClinicalSummary string    `json:"clinicalSummary"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UsedFallback    bool      `json:"usedFallback"`
}

// FollowUp is a scheduled future touchpoint linked to a consultation.
type FollowUp struct {
	ID             uuid.UUID `json:"id"`
	ConsultationID uuid.UUID `json:"consultationId"`
	PatientID      string    `json:"patientId"`
	ScheduledDate  time.Time `json:"scheduledDate"`
	Type           string    `json:"type"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MetadataPatch is a typed partial update of consultation metadata. Pointer
// fields replace the stored value when set; Add fields union into the stored
// set without duplicating existing entries.
type MetadataPatch struct {
	Status         *string    `json:"status,omitempty"`
	Priority       *string    `json:"priority,omitempty"`
	Category       *string    `json:"category,omitempty"`
	Tags           *[]string  `json:"tags,omitempty"`
	SOAPGenerated  *bool      `json:"soapGenerated,omitempty"`
	LastActionDate *time.Time `json:"lastActionDate,omitempty"`
	AddTags        []string   `json:"addTags,omitempty"`
	AddReferrals   []string   `json:"-"`
	AddFollowUps   []string   `json:"-"`
}

// IsZero reports whether the patch carries no changes at all.
func (p MetadataPatch) IsZero() bool {
	return p.Status == nil && p.Priority == nil && p.Category == nil &&
		p.Tags == nil && p.SOAPGenerated == nil && p.LastActionDate == nil &&
		len(p.AddTags) == 0 && len(p.AddReferrals) == 0 && len(p.AddFollowUps) == 0
}

// SearchFilter holds the store-side predicates for consultation search.
// All set fields are combined conjunctively.
type SearchFilter struct {
	Status       string
	Priority     string
	Category     string
	Tags         []string
	ActionAfter  *time.Time
	ActionBefore *time.Time
}

// Stats is the aggregate view over one owner's consultations.
type Stats struct {
	Total         int            `json:"total"`
	RecentCount   int            `json:"recentCount"`
	SOAPGenerated int            `json:"soapGenerated"`
	Referrals     int            `json:"referrals"`
	FollowUps     int            `json:"followUps"`
	ByStatus      map[string]int `json:"byStatus"`
	ByCategory    map[string]int `json:"byCategory"`
	ByPriority    map[string]int `json:"byPriority"`
}

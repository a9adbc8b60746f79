package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teleclinic/consult/internal/domain/consultation"
	"github.com/teleclinic/consult/internal/platform/llm"
)

const (
	generationTemperature = 0.3
	soapMaxTokens         = 1000
	referralMaxTokens     = 800
)

// Fallback boilerplate substituted when the model's response cannot be
// parsed. Clinically neutral on purpose.
const (
	fallbackSubjective = "Patient consultation documented. Detailed symptoms and concerns as reported during virtual visit."
	fallbackObjective  = "Virtual consultation conducted. No physical examination performed. Patient appeared alert and responsive during video call."
	fallbackAssessment = "Assessment based on patient-reported symptoms and virtual consultation. Further in-person evaluation may be warranted."

	fallbackReferralTo = "General Medicine"
	fallbackReason     = "Follow-up required"
	fallbackSummary    = "Patient consultation completed via virtual visit. Requires in-person evaluation and assessment."
)

var fallbackPlan = []string{
	"Continue monitoring symptoms",
	"Follow up with healthcare provider as needed",
	"Seek immediate medical attention if symptoms worsen",
}

var fallbackSymptoms = []string{"As reported in consultation"}

// Store persists generated documents. *consultation.Service satisfies it.
type Store interface {
	SaveSOAPNote(ctx context.Context, note *consultation.SOAPNote) error
	CreateReferral(ctx context.Context, ref *consultation.Referral) error
}

// ConsultationData is the generation input supplied by the caller.
type ConsultationData struct {
	ID       uuid.UUID
	OwnerID  string
	Title    string
	Messages []consultation.Message
}

type Generator struct {
	client llm.Client
	store  Store
	logger zerolog.Logger
}

func NewGenerator(client llm.Client, store Store, logger zerolog.Logger) *Generator {
	return &Generator{client: client, store: store, logger: logger}
}

type soapPayload struct {
	Subjective string   `json:"subjective"`
	Objective  string   `json:"objective"`
	Assessment string   `json:"assessment"`
	Plan       []string `json:"plan"`
}

// GenerateSOAP renders the transcript, asks the model for a SOAP note, and
// persists the result. An unparsable response resolves to the fallback note
// with UsedFallback set; it is never an error.
func (g *Generator) GenerateSOAP(ctx context.Context, data ConsultationData) (*consultation.SOAPNote, error) {
	raw, err := g.client.Complete(ctx, llm.ChatRequest{
		System:      soapSystemPrompt,
		User:        soapPrompt(renderTranscript(data.Messages)),
		Temperature: generationTemperature,
		MaxTokens:   soapMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("soap completion: %w", err)
	}

	note := &consultation.SOAPNote{
		ConsultationID: data.ID,
		PatientID:      data.OwnerID,
		GeneratedAt:    time.Now(),
	}

	cleaned := cleanResponse(raw)
	var payload soapPayload
	if perr := parseObject(cleaned, &payload); perr != nil {
		g.logger.Warn().
			Str("consultation_id", data.ID.String()).
			Str("response", cleaned).
			Msg("unparsable SOAP response, using fallback")
		note.Subjective = fallbackSubjective
		note.Objective = fallbackObjective
		note.Assessment = fallbackAssessment
		note.Plan = append([]string(nil), fallbackPlan...)
		note.UsedFallback = true
	} else {
		note.Subjective = payload.Subjective
		note.Objective = payload.Objective
		note.Assessment = payload.Assessment
		note.Plan = payload.Plan
	}

	if err := g.store.SaveSOAPNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

type referralPayload struct {
	ReferralTo      string   `json:"referralTo"`
	Urgency         string   `json:"urgency"`
	Reason          string   `json:"reason"`
	Symptoms        []string `json:"symptoms"`
	ClinicalSummary string   `json:"clinicalSummary"`
}

// GenerateReferral mirrors GenerateSOAP for referrals. Urgency is coerced to
// routine whenever the model produces anything outside the two-value enum,
// even on an otherwise successful parse.
func (g *Generator) GenerateReferral(ctx context.Context, data ConsultationData) (*consultation.Referral, error) {
	raw, err := g.client.Complete(ctx, llm.ChatRequest{
		System:      referralSystemPrompt,
		User:        referralPrompt(renderTranscript(data.Messages)),
		Temperature: generationTemperature,
		MaxTokens:   referralMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("referral completion: %w", err)
	}

	ref := &consultation.Referral{
		ConsultationID: data.ID,
		PatientID:      data.OwnerID,
		Status:         consultation.ReferralPending,
		CreatedAt:      time.Now(),
	}

	cleaned := cleanResponse(raw)
	var payload referralPayload
	if perr := parseObject(cleaned, &payload); perr != nil {
		g.logger.Warn().
			Str("consultation_id", data.ID.String()).
			Str("response", cleaned).
			Msg("unparsable referral response, using fallback")
		ref.ReferralTo = fallbackReferralTo
		ref.Urgency = consultation.UrgencyRoutine
		ref.Reason = data.Title
		if ref.Reason == "" {
			ref.Reason = fallbackReason
		}
		ref.Symptoms = append([]string(nil), fallbackSymptoms...)
		ref.ClinicalSummary = fallbackSummary
		ref.UsedFallback = true
	} else {
		ref.ReferralTo = payload.ReferralTo
		ref.Urgency = payload.Urgency
		ref.Reason = payload.Reason
		ref.Symptoms = payload.Symptoms
		ref.ClinicalSummary = payload.ClinicalSummary
	}

	if ref.Urgency != consultation.UrgencyRoutine && ref.Urgency != consultation.UrgencyUrgent {
		ref.Urgency = consultation.UrgencyRoutine
	}

	if err := g.store.CreateReferral(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// cleanResponse strips a leading code fence (with or without the json tag)
// and a trailing fence before parsing.
func cleanResponse(content string) string {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "```json"))
	}
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "```"))
	}
	if strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "```"))
	}
	return cleaned
}

// parseObject rejects anything that is not a JSON object, including valid
// JSON scalars and arrays.
func parseObject(s string, out interface{}) error {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return fmt.Errorf("response is not a JSON object")
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

package generation

import (
	"fmt"
	"strings"

	"github.com/teleclinic/consult/internal/domain/consultation"
)

const soapSystemPrompt = "You are a medical professional. Respond only with valid JSON. " +
	"Never use markdown formatting or code blocks. Always return a plain JSON object."

const referralSystemPrompt = soapSystemPrompt +
	` Ensure urgency is one of "routine" or "urgent".`

// renderTranscript turns the message sequence into alternating
// "Patient:"/"AI Doctor:" turns separated by blank lines.
func renderTranscript(msgs []consultation.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := "AI Doctor"
		if m.Sender == consultation.SenderPatient {
			speaker = "Patient"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Text))
	}
	return strings.Join(lines, "\n\n")
}

func soapPrompt(transcript string) string {
	return fmt.Sprintf(`Based on the following patient consultation, generate a professional SOAP note. You must respond with ONLY a valid JSON object, no markdown formatting, no explanations, no code blocks.

Conversation:
%s

Generate a JSON object with exactly these fields:
- "subjective": string - Patient's reported symptoms and concerns
- "objective": string - Note this was a virtual consultation with no physical exam
- "assessment": string - Clinical assessment based on the conversation
- "plan": array of strings - Recommended next steps and treatments

Respond with only the JSON object, nothing else.`, transcript)
}

func referralPrompt(transcript string) string {
	return fmt.Sprintf(`Based on the following patient consultation, generate a medical referral. You must respond with ONLY a valid JSON object, no markdown formatting, no explanations, no code blocks.

Conversation:
%s

Generate a JSON object with exactly these fields:
- "referralTo": string - What type of specialist or specific doctor should see this patient
- "urgency": string - Must be one of: "routine", "urgent"
- "reason": string - Brief reason for referral
- "symptoms": array of strings - Key symptoms mentioned
- "clinicalSummary": string - 2-3 sentence summary for the specialist

Respond with only the JSON object, nothing else.`, transcript)
}

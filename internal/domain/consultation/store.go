package consultation

import (
	"encoding/json"
	"fmt"
	"time"
)

// The store keeps the transcript and metadata as JSONB documents with
// RFC3339 timestamps. Encoding and decoding live here so the repository
// never touches raw documents, and decoding is tolerant: missing optional
// fields get defaults instead of errors.

type messageDoc struct {
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

type metadataDoc struct {
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	SOAPGenerated  bool     `json:"soapGenerated"`
	LastActionDate string   `json:"lastActionDate"`
	Referrals      []string `json:"referrals"`
	FollowUps      []string `json:"followUps"`
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeTime falls back to now for missing or unparsable timestamps.
func decodeTime(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return now
	}
	return t
}

func encodeMessages(msgs []Message) ([]byte, error) {
	docs := make([]messageDoc, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, messageDoc{
			Text:      m.Text,
			Sender:    m.Sender,
			Timestamp: encodeTime(m.Timestamp),
		})
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return b, nil
}

func encodeMessage(m Message) ([]byte, error) {
	// A single-element array so the store can append with a document merge.
	return encodeMessages([]Message{m})
}

func decodeMessages(raw []byte, now time.Time) []Message {
	if len(raw) == 0 {
		return nil
	}
	var docs []messageDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil
	}
	msgs := make([]Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, Message{
			Text:      d.Text,
			Sender:    d.Sender,
			Timestamp: decodeTime(d.Timestamp, now),
		})
	}
	return msgs
}

func encodeMetadata(m *Metadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	doc := metadataDoc{
		Status:         m.Status,
		Priority:       m.Priority,
		Category:       m.Category,
		Tags:           m.Tags,
		SOAPGenerated:  m.SOAPGenerated,
		LastActionDate: encodeTime(m.LastActionDate),
		Referrals:      m.Referrals,
		FollowUps:      m.FollowUps,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// decodeMetadata returns nil for an absent document; partial documents get
// zero values for the missing fields.
func decodeMetadata(raw []byte, now time.Time) *Metadata {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var doc metadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return &Metadata{
		Status:         doc.Status,
		Priority:       doc.Priority,
		Category:       doc.Category,
		Tags:           doc.Tags,
		SOAPGenerated:  doc.SOAPGenerated,
		LastActionDate: decodeTime(doc.LastActionDate, now),
		Referrals:      doc.Referrals,
		FollowUps:      doc.FollowUps,
	}
}

// defaultMetadata is the metadata every new consultation starts with.
func defaultMetadata(now time.Time) *Metadata {
	return &Metadata{
		Status:         StatusNew,
		Priority:       PriorityMedium,
		Category:       DefaultCategory,
		Tags:           []string{},
		SOAPGenerated:  false,
		LastActionDate: now,
		Referrals:      []string{},
		FollowUps:      []string{},
	}
}

// applyPatch merges a MetadataPatch into existing metadata and returns the
// result. It is pure and total: a nil current value starts from defaults,
// unions never duplicate, and lastActionDate is bumped to now unless the
// patch carries an explicit value.
func applyPatch(current *Metadata, patch MetadataPatch, now time.Time) *Metadata {
	meta := defaultMetadata(now)
	if current != nil {
		copied := *current
		meta = &copied
	}

	if patch.Status != nil {
		meta.Status = *patch.Status
	}
	if patch.Priority != nil {
		meta.Priority = *patch.Priority
	}
	if patch.Category != nil {
		meta.Category = *patch.Category
	}
	if patch.Tags != nil {
		meta.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.SOAPGenerated != nil {
		meta.SOAPGenerated = *patch.SOAPGenerated
	}

	meta.Tags = unionInto(meta.Tags, patch.AddTags)
	meta.Referrals = unionInto(meta.Referrals, patch.AddReferrals)
	meta.FollowUps = unionInto(meta.FollowUps, patch.AddFollowUps)

	if patch.LastActionDate != nil {
		meta.LastActionDate = *patch.LastActionDate
	} else {
		meta.LastActionDate = now
	}

	return meta
}

// unionInto appends the values not already present, preserving order.
func unionInto(existing, add []string) []string {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	out := existing
	for _, v := range add {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

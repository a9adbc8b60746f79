package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Search applies the store-side filter conjunctively and then the free-text
// term in memory: a case-insensitive substring match against the title and
// every message. Results stay ordered by lastActionDate descending.
func (s *Service) Search(ctx context.Context, ownerID, term string, filter SearchFilter) ([]*Consultation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}

	items, err := s.repo.Search(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}

	if term == "" {
		return items, nil
	}

	needle := strings.ToLower(term)
	var matched []*Consultation
	for _, c := range items {
		if matchesTerm(c, needle) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func matchesTerm(c *Consultation, needle string) bool {
	if strings.Contains(strings.ToLower(c.Title), needle) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Text), needle) {
			return true
		}
	}
	return false
}

// Analytics aggregates the owner's consultations in a single pass.
func (s *Service) Analytics(ctx context.Context, ownerID string) (*Stats, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}

	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus:   make(map[string]int),
		ByCategory: make(map[string]int),
		ByPriority: make(map[string]int),
	}
	weekAgo := time.Now().AddDate(0, 0, -7)

	for _, c := range items {
		stats.Total++
		if c.CreatedAt.After(weekAgo) {
			stats.RecentCount++
		}
		if c.Metadata == nil {
			continue
		}
		if c.Metadata.SOAPGenerated {
			stats.SOAPGenerated++
		}
		stats.Referrals += len(c.Metadata.Referrals)
		stats.FollowUps += len(c.Metadata.FollowUps)
		if c.Metadata.Status != "" {
			stats.ByStatus[c.Metadata.Status]++
		}
		if c.Metadata.Category != "" {
			stats.ByCategory[c.Metadata.Category]++
		}
		if c.Metadata.Priority != "" {
			stats.ByPriority[c.Metadata.Priority]++
		}
	}

	return stats, nil
}

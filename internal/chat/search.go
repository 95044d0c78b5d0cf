package chat

import (
	"context"
	"strings"
)

// SearchResult holds the matching messages of one conversation
type SearchResult struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// SearchMessages scans every conversation's messages for a case-insensitive
// substring match on content. The query is matched as given, whitespace
// included. Conversations without a match are omitted and each result
// carries only the matching messages. There is no index; the cost is linear
// in the number of stored messages.
func (m *Manager) SearchMessages(ctx context.Context, query string) ([]SearchResult, error) {
	if query == "" {
		return []SearchResult{}, nil
	}

	convs, err := m.GetConversations(ctx)
	if err != nil {
		return []SearchResult{}, err
	}
	all, err := m.loadMessageMap(ctx)
	if err != nil {
		m.log.Error("failed to search messages", "error", err)
		return []SearchResult{}, err
	}

	q := strings.ToLower(query)
	results := []SearchResult{}
	for _, conv := range convs {
		var matched []Message
		for _, msg := range all[conv.ID] {
			if strings.Contains(strings.ToLower(msg.Content), q) {
				matched = append(matched, msg)
			}
		}
		if len(matched) > 0 {
			results = append(results, SearchResult{ConversationID: conv.ID, Messages: matched})
		}
	}

	m.log.Debug("messages searched", "query", query, "conversations", len(results))
	return results, nil
}

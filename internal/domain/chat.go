package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	GlobalGroupID   = "group_friends_global"
	GlobalGroupName = "Friends Group"
)

type ChatSession struct {
	ID           string         `json:"id"`
	Participants ParticipantSet `json:"participants"`
	IsGroup      bool           `json:"is_group"`
	GroupName    *string        `json:"group_name,omitempty"`
	LastMessage  *Message       `json:"last_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DirectChatID derives the id of the direct chat between two users. The pair
// is sorted so both sides compute the same id.
func DirectChatID(userA, userB string) string {
	a, b := SortPair(userA, userB)
	return fmt.Sprintf("chat_%s_%s", a, b)
}

// SortPair returns the two ids in canonical order.
func SortPair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

func (c *ChatSession) IsDirect() bool {
	return !c.IsGroup
}

func (c *ChatSession) HasParticipant(userID string) bool {
	return c.Participants.Has(userID)
}

// OtherParticipant returns the direct-chat peer of userID, or "" for groups.
func (c *ChatSession) OtherParticipant(userID string) string {
	if c.IsGroup {
		return ""
	}
	for _, id := range c.Participants.IDs() {
		if id != userID {
			return id
		}
	}
	return ""
}

// LastActivity is the timestamp of the cached last message, zero if none.
func (c *ChatSession) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

// ParticipantSet is the canonical membership representation. It encodes as a
// sorted JSON array and decodes both the array form and the legacy keyed-map
// form ({"<userId>": true}).
type ParticipantSet map[string]struct{}

func NewParticipantSet(ids ...string) ParticipantSet {
	s := make(ParticipantSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s ParticipantSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether the set changed.
func (s ParticipantSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// IDs returns the members in sorted order.
func (s ParticipantSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s ParticipantSet) Clone() ParticipantSet {
	c := make(ParticipantSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s ParticipantSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *ParticipantSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	set := ParticipantSet{}

	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '[':
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return fmt.Errorf("decoding participant list: %w", err)
		}
		for _, id := range ids {
			if id != "" {
				set[id] = struct{}{}
			}
		}
	case len(data) > 0 && data[0] == '{':
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return fmt.Errorf("decoding participant map: %w", err)
		}
		for id, v := range keyed {
			// {"id": false} marks a removed legacy entry.
			if id == "" || bytes.Equal(bytes.TrimSpace(v), []byte("false")) {
				continue
			}
			set[id] = struct{}{}
		}
	default:
		return fmt.Errorf("unsupported participants encoding: %s", data)
	}

	*s = set
	return nil
}

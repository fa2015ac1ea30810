// Package memory keeps all collections in process. It backs the dev server
// mode and the service tests.
package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/vedran77/mavis/internal/domain"
)

// Store holds users, credentials, chats and per-chat message logs behind one
// lock, which makes message appends atomic with the chat's lastMessage update.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*domain.User
	usernames   map[string]string // username key -> user id
	credentials map[string]*domain.Credential
	chats       map[string]*chatRecord
	messages    map[string][]*domain.Message
}

type chatRecord struct {
	chat *domain.ChatSession
	seq  int64
}

func NewStore() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		usernames:   make(map[string]string),
		credentials: make(map[string]*domain.Credential),
		chats:       make(map[string]*chatRecord),
		messages:    make(map[string][]*domain.Message),
	}
}

func (s *Store) Users() *UserRepo             { return &UserRepo{s: s} }
func (s *Store) Credentials() *CredentialRepo { return &CredentialRepo{s: s} }
func (s *Store) Chats() *ChatRepo             { return &ChatRepo{s: s} }
func (s *Store) Messages() *MessageRepo       { return &MessageRepo{s: s} }

// snapshot is the on-disk layout: users keyed by id, chats keyed by id,
// messages keyed by chat id then message id.
type snapshot struct {
	Users       map[string]*domain.User               `json:"users"`
	Credentials map[string]*snapshotCredential        `json:"credentials,omitempty"`
	Chats       map[string]*domain.ChatSession        `json:"chats"`
	Messages    map[string]map[string]*domain.Message `json:"messages"`
}

type snapshotCredential struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// Snapshot writes every collection as JSON.
func (s *Store) Snapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		Users:       s.users,
		Credentials: make(map[string]*snapshotCredential, len(s.credentials)),
		Chats:       make(map[string]*domain.ChatSession, len(s.chats)),
		Messages:    make(map[string]map[string]*domain.Message, len(s.messages)),
	}
	for key, c := range s.credentials {
		snap.Credentials[key] = &snapshotCredential{UserID: c.UserID, Email: c.Email, PasswordHash: c.PasswordHash}
	}
	for id, rec := range s.chats {
		snap.Chats[id] = rec.chat
	}
	for chatID, log := range s.messages {
		byID := make(map[string]*domain.Message, len(log))
		for _, m := range log {
			byID[m.ID] = m
		}
		snap.Messages[chatID] = byID
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// Restore replaces the store contents with a snapshot. Participant lists in
// either the array or the legacy keyed-map shape are accepted.
func (s *Store) Restore(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*domain.User, len(snap.Users))
	s.usernames = make(map[string]string, len(snap.Users))
	for id, u := range snap.Users {
		if u.ID == "" {
			u.ID = id
		}
		s.users[u.ID] = u
		s.usernames[domain.UsernameKey(u.Username)] = u.ID
	}

	s.credentials = make(map[string]*domain.Credential, len(snap.Credentials))
	for key, c := range snap.Credentials {
		s.credentials[key] = &domain.Credential{UserID: c.UserID, Email: c.Email, PasswordHash: c.PasswordHash}
	}

	s.chats = make(map[string]*chatRecord, len(snap.Chats))
	for id, c := range snap.Chats {
		if c.ID == "" {
			c.ID = id
		}
		if c.Participants == nil {
			c.Participants = domain.ParticipantSet{}
		}
		s.chats[c.ID] = &chatRecord{chat: c}
	}

	s.messages = make(map[string][]*domain.Message, len(snap.Messages))
	for chatID, byID := range snap.Messages {
		log := make([]*domain.Message, 0, len(byID))
		for _, m := range byID {
			m.ChatID = chatID
			log = append(log, m)
		}
		sort.SliceStable(log, func(i, j int) bool {
			if !log[i].Timestamp.Equal(log[j].Timestamp) {
				return log[i].Timestamp.Before(log[j].Timestamp)
			}
			if log[i].Seq != log[j].Seq {
				return log[i].Seq < log[j].Seq
			}
			return log[i].ID < log[j].ID
		})
		for i, m := range log {
			m.Seq = int64(i + 1)
		}
		s.messages[chatID] = log
		if rec, ok := s.chats[chatID]; ok {
			rec.seq = int64(len(log))
		}
	}
	return nil
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.AvatarURL != nil {
		url := *u.AvatarURL
		c.AvatarURL = &url
	}
	return &c
}

func cloneChat(c *domain.ChatSession) *domain.ChatSession {
	out := *c
	out.Participants = c.Participants.Clone()
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	if c.GroupName != nil {
		name := *c.GroupName
		out.GroupName = &name
	}
	return &out
}

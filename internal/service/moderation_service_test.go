package service

import (
	"time"

	"github.com/vedran77/mavis/internal/domain"
)

func (s *serviceSuite) TestBanScenario() {
	root := s.admin()
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)
	_, err := s.env.chats.JoinGroup(s.ctx, domain.GlobalGroupID, bob.ID)
	s.Require().NoError(err)

	closed := make(chan struct{})
	_, err = s.env.presence.Connect(s.ctx, bob.ID, func() { close(closed) })
	s.Require().NoError(err)

	banned, err := s.env.moderation.SetBanned(s.ctx, root.ID, "bob", true)
	s.Require().NoError(err)
	s.True(banned.IsBanned)

	select {
	case <-closed:
	case <-time.After(time.Second):
		s.Fail("live session was not terminated")
	}
	s.Zero(s.env.presence.SessionCount(bob.ID))

	for _, chatID := range []string{chat.ID, domain.GlobalGroupID} {
		_, err = s.env.messages.Send(s.ctx, chatID, bob.ID, SendMessageInput{Text: "hello?"})
		s.ErrorIs(err, ErrBanned)
	}

	_, err = s.env.moderation.SetBanned(s.ctx, root.ID, "bob package not found", true)
	s.ErrorIs(err, ErrUserNotFound)
	s.ErrorIs(err, ErrNotFound)

	unbanned, err := s.env.moderation.SetBanned(s.ctx, root.ID, "@BOB", false)
	s.Require().NoError(err)
	s.False(unbanned.IsBanned)
	s.send(chat.ID, bob, "back")
}

func (s *serviceSuite) TestModerationRequiresAdmin() {
	alice := s.register("alice")
	s.register("bob")

	_, err := s.env.moderation.SetBanned(s.ctx, alice.ID, "bob", true)
	s.ErrorIs(err, ErrNotAdmin)
	s.ErrorIs(err, ErrForbidden)

	_, err = s.env.moderation.SetAdmin(s.ctx, alice.ID, "alice", true)
	s.ErrorIs(err, ErrNotAdmin)

	_, err = s.env.moderation.ToggleBanned(s.ctx, "ghost", alice.ID)
	s.ErrorIs(err, ErrNotAdmin)

	stored, err := s.env.store.Users().GetByUsername(s.ctx, "bob")
	s.Require().NoError(err)
	s.False(stored.IsBanned)
}

func (s *serviceSuite) TestSetAdminAndToggle() {
	root := s.admin()
	alice := s.register("alice")

	promoted, err := s.env.moderation.SetAdmin(s.ctx, root.ID, "Alice", true)
	s.Require().NoError(err)
	s.True(promoted.IsAdmin)

	// Alice can now moderate.
	banned, err := s.env.moderation.ToggleBanned(s.ctx, alice.ID, root.ID)
	s.Require().NoError(err)
	s.True(banned)

	// A banned admin loses the privilege.
	_, err = s.env.moderation.ToggleBanned(s.ctx, root.ID, alice.ID)
	s.ErrorIs(err, ErrNotAdmin)

	banned, err = s.env.moderation.ToggleBanned(s.ctx, alice.ID, root.ID)
	s.Require().NoError(err)
	s.False(banned)

	_, err = s.env.moderation.ToggleBanned(s.ctx, root.ID, "ghost")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *serviceSuite) TestBannedUserCannotChangeChatsOrProfile() {
	root := s.admin()
	alice := s.register("alice")
	bob := s.register("bob")
	_, err := s.env.moderation.SetBanned(s.ctx, root.ID, "bob", true)
	s.Require().NoError(err)

	_, err = s.env.chats.JoinGroup(s.ctx, domain.GlobalGroupID, bob.ID)
	s.ErrorIs(err, ErrBanned)
	group, err := s.env.chats.Get(s.ctx, domain.GlobalGroupID)
	s.Require().NoError(err)
	s.False(group.HasParticipant(bob.ID))
	msgs, err := s.env.store.Messages().ListByChat(s.ctx, domain.GlobalGroupID)
	s.Require().NoError(err)
	s.Empty(msgs, "no join notice for a banned user")

	_, err = s.env.chats.GetOrCreateDirect(s.ctx, bob.ID, alice.ID)
	s.ErrorIs(err, ErrBanned)
	stored, err := s.env.store.Chats().GetByID(s.ctx, domain.DirectChatID(alice.ID, bob.ID))
	s.Require().NoError(err)
	s.Nil(stored)

	// Others can still open a chat with the banned user.
	s.direct(alice, bob)

	name := "Bobby"
	_, err = s.env.auth.UpdateProfile(s.ctx, bob.ID, UpdateProfileInput{DisplayName: &name})
	s.ErrorIs(err, ErrBanned)
	user, err := s.env.store.Users().GetByID(s.ctx, bob.ID)
	s.Require().NoError(err)
	s.Equal("bob", user.DisplayName)
}

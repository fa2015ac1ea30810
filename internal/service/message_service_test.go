package service

import (
	"sync"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/pkg/validator"
)

func (s *serviceSuite) TestDirectMessageUnreadScenario() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	msg := s.send(chat.ID, alice, "hi")
	s.Equal(domain.MessageStatusSent, msg.Status)
	s.Equal(domain.MessageTypeText, msg.Type)

	n, err := s.env.messages.UnreadCount(s.ctx, chat.ID, bob.ID)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.env.messages.UnreadCount(s.ctx, chat.ID, alice.ID)
	s.Require().NoError(err)
	s.Equal(0, n, "own messages never count as unread")

	s.Require().NoError(s.env.messages.MarkRead(s.ctx, chat.ID, bob.ID))
	n, err = s.env.messages.UnreadCount(s.ctx, chat.ID, bob.ID)
	s.Require().NoError(err)
	s.Equal(0, n)

	// Idempotent.
	s.Require().NoError(s.env.messages.MarkRead(s.ctx, chat.ID, bob.ID))
	n, err = s.env.messages.UnreadCount(s.ctx, chat.ID, bob.ID)
	s.Require().NoError(err)
	s.Equal(0, n)

	stored, err := s.env.chats.Get(s.ctx, chat.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.LastMessage)
	s.Equal(msg.ID, stored.LastMessage.ID)
	s.Equal(domain.MessageStatusRead, stored.LastMessage.Status)
}

func (s *serviceSuite) TestMarkReadLeavesReaderOwnMessages() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	s.send(chat.ID, alice, "from alice")
	s.send(chat.ID, bob, "from bob")

	s.Require().NoError(s.env.messages.MarkRead(s.ctx, chat.ID, bob.ID))

	msgs, err := s.env.messages.List(s.ctx, alice.ID, chat.ID)
	s.Require().NoError(err)
	s.Require().Len(msgs, 2)
	s.Equal(domain.MessageStatusRead, msgs[0].Status)
	s.Equal(domain.MessageStatusSent, msgs[1].Status)

	n, err := s.env.messages.UnreadCount(s.ctx, chat.ID, alice.ID)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *serviceSuite) TestListIsOrderedAndStable() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := alice
			if i%2 == 0 {
				sender = bob
			}
			_, err := s.env.messages.Send(s.ctx, chat.ID, sender.ID, SendMessageInput{Text: "msg"})
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	before, err := s.env.messages.List(s.ctx, alice.ID, chat.ID)
	s.Require().NoError(err)
	s.Require().Len(before, 30)
	for i := 1; i < len(before); i++ {
		s.False(before[i].Timestamp.Before(before[i-1].Timestamp))
		s.True(before[i-1].Before(&before[i]))
	}

	s.send(chat.ID, alice, "later")
	after, err := s.env.messages.List(s.ctx, alice.ID, chat.ID)
	s.Require().NoError(err)
	s.Require().Len(after, 31)
	for i := range before {
		s.Equal(before[i].ID, after[i].ID, "append must not reorder earlier messages")
	}
}

func (s *serviceSuite) TestSendErrors() {
	alice := s.register("alice")
	bob := s.register("bob")
	carol := s.register("carol")
	chat := s.direct(alice, bob)

	_, err := s.env.messages.Send(s.ctx, "missing", alice.ID, SendMessageInput{Text: "hi"})
	s.ErrorIs(err, ErrChatNotFound)

	_, err = s.env.messages.Send(s.ctx, chat.ID, carol.ID, SendMessageInput{Text: "hi"})
	s.ErrorIs(err, ErrNotParticipant)
	s.ErrorIs(err, ErrForbidden)

	_, err = s.env.messages.Send(s.ctx, domain.GlobalGroupID, carol.ID, SendMessageInput{Text: "hi"})
	s.ErrorIs(err, ErrNotParticipant, "group sends require membership")

	_, err = s.env.messages.Send(s.ctx, chat.ID, alice.ID, SendMessageInput{Text: "fake", Type: "system"})
	s.ErrorIs(err, ErrReservedType)

	var verrs validator.ValidationErrors
	_, err = s.env.messages.Send(s.ctx, chat.ID, alice.ID, SendMessageInput{Text: "  "})
	s.ErrorAs(err, &verrs)
	_, err = s.env.messages.Send(s.ctx, chat.ID, alice.ID, SendMessageInput{Text: "x", Type: "video"})
	s.ErrorAs(err, &verrs)
	_, err = s.env.messages.Send(s.ctx, chat.ID, alice.ID, SendMessageInput{Text: "not a url", Type: "gif"})
	s.ErrorAs(err, &verrs)

	msg, err := s.env.messages.Send(s.ctx, chat.ID, alice.ID, SendMessageInput{Text: "🔥", Type: "sticker"})
	s.Require().NoError(err)
	content, err := msg.Content()
	s.Require().NoError(err)
	s.Equal(domain.StickerContent{Emoji: "🔥"}, content)
}

func (s *serviceSuite) TestBannedSenderNeverAppends() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)
	_, err := s.env.store.Users().SetBanned(s.ctx, bob.ID, true)
	s.Require().NoError(err)

	_, err = s.env.messages.Send(s.ctx, chat.ID, bob.ID, SendMessageInput{Text: "let me in"})
	s.ErrorIs(err, ErrBanned)

	msgs, err := s.env.messages.List(s.ctx, bob.ID, chat.ID)
	s.Require().NoError(err, "banned users keep read access")
	s.Empty(msgs)
}

func (s *serviceSuite) TestReadAccess() {
	alice := s.register("alice")
	bob := s.register("bob")
	carol := s.register("carol")
	root := s.admin()
	chat := s.direct(alice, bob)

	_, err := s.env.messages.List(s.ctx, carol.ID, chat.ID)
	s.ErrorIs(err, ErrNotParticipant)

	_, err = s.env.messages.List(s.ctx, root.ID, chat.ID)
	s.NoError(err, "admins may read any chat")

	_, err = s.env.messages.List(s.ctx, carol.ID, domain.GlobalGroupID)
	s.NoError(err, "the public group is readable by everyone")

	err = s.env.messages.MarkRead(s.ctx, "missing", alice.ID)
	s.ErrorIs(err, ErrChatNotFound)
}

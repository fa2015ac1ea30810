package service

import (
	"time"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/fanout"
)

func next[T any](s *serviceSuite, sub *fanout.Subscription[T]) T {
	select {
	case u, ok := <-sub.Updates():
		s.Require().True(ok, "subscription closed")
		return u.Value
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for view")
	}
	var zero T
	return zero
}

// nextMatching skips intermediate views until one satisfies ok.
func nextMatching[T any](s *serviceSuite, sub *fanout.Subscription[T], ok func(T) bool) T {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, open := <-sub.Updates():
			s.Require().True(open, "subscription closed")
			if ok(u.Value) {
				return u.Value
			}
		case <-deadline:
			s.FailNow("timed out waiting for matching view")
		}
	}
}

func (s *serviceSuite) TestMessageSubscriptionSeesSends() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	sub, err := s.env.realtime.SubscribeMessages(s.ctx, bob.ID, chat.ID)
	s.Require().NoError(err)
	defer sub.Cancel()

	s.Empty(next(s, sub))

	first := s.send(chat.ID, alice, "one")
	second := s.send(chat.ID, alice, "two")

	view := nextMatching(s, sub, func(msgs []domain.Message) bool { return len(msgs) == 2 })
	s.Equal(first.ID, view[0].ID)
	s.Equal(second.ID, view[1].ID)
}

func (s *serviceSuite) TestUnreadSubscription() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	sub, err := s.env.realtime.SubscribeUnread(s.ctx, bob.ID, chat.ID)
	s.Require().NoError(err)
	defer sub.Cancel()
	s.Equal(0, next(s, sub))

	s.send(chat.ID, alice, "hi")
	nextMatching(s, sub, func(n int) bool { return n == 1 })

	s.Require().NoError(s.env.messages.MarkRead(s.ctx, chat.ID, bob.ID))
	nextMatching(s, sub, func(n int) bool { return n == 0 })
}

func (s *serviceSuite) TestChatsSubscription() {
	alice := s.register("alice")
	bob := s.register("bob")

	sub := s.env.realtime.SubscribeChats(s.ctx, alice.ID)
	defer sub.Cancel()

	initial := next(s, sub)
	s.Require().Len(initial, 1)
	s.Equal(domain.GlobalGroupID, initial[0].ID)

	chat := s.direct(bob, alice)
	s.send(chat.ID, bob, "hey")

	view := nextMatching(s, sub, func(v []ChatView) bool {
		return len(v) == 2 && v[0].LastMessage != nil
	})
	s.Equal(chat.ID, view[0].ID)
	s.Require().NotNil(view[0].Peer)
	s.Equal(bob.ID, view[0].Peer.ID)
	s.Equal(1, view[0].Unread)
}

func (s *serviceSuite) TestPresenceSubscription() {
	alice := s.register("alice")

	sub, err := s.env.realtime.SubscribePresence(s.ctx, alice.ID)
	s.Require().NoError(err)
	defer sub.Cancel()
	s.False(next(s, sub).IsOnline)

	sess, err := s.env.presence.Connect(s.ctx, alice.ID, nil)
	s.Require().NoError(err)
	nextMatching(s, sub, func(u *domain.User) bool { return u.IsOnline })

	sess.Disconnect(s.ctx)
	offline := nextMatching(s, sub, func(u *domain.User) bool { return !u.IsOnline })
	s.NotNil(offline.LastSeen)

	_, err = s.env.realtime.SubscribePresence(s.ctx, "ghost")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *serviceSuite) TestSubscribeMessagesChecksAccess() {
	alice := s.register("alice")
	bob := s.register("bob")
	carol := s.register("carol")
	chat := s.direct(alice, bob)

	_, err := s.env.realtime.SubscribeMessages(s.ctx, carol.ID, chat.ID)
	s.ErrorIs(err, ErrNotParticipant)

	_, err = s.env.realtime.SubscribeMessages(s.ctx, carol.ID, "missing")
	s.ErrorIs(err, ErrChatNotFound)
	s.Zero(s.env.hub.Subscribers(fanout.Key{Kind: fanout.KindMessages, ID: "missing"}))
}

package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
	"github.com/vedran77/mavis/pkg/validator"
)

// gatedChats holds every GetByID until gate is closed or the call's ctx ends.
type gatedChats struct {
	repository.ChatRepository
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedChats) GetByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.ChatRepository.GetByID(ctx, id)
}

func (s *serviceSuite) TestGetOrCreateDirectConverges() {
	alice := s.register("alice")
	bob := s.register("bob")

	const callers = 20
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			chat, err := s.env.chats.GetOrCreateDirect(s.ctx, a, b)
			s.NoError(err)
			if chat != nil {
				ids[i] = chat.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		s.Equal(domain.DirectChatID(alice.ID, bob.ID), id)
	}

	chats, err := s.env.store.Chats().ListByParticipant(s.ctx, alice.ID)
	s.Require().NoError(err)
	low, high := domain.SortPair(alice.ID, bob.ID)
	direct := 0
	for _, c := range chats {
		if c.IsDirect() {
			direct++
			s.Equal([]string{low, high}, c.Participants.IDs())
		}
	}
	s.Equal(1, direct)
}

func (s *serviceSuite) TestGetOrCreateDirectSurvivesAnotherCallersCancel() {
	alice := s.register("alice")
	bob := s.register("bob")

	repo := &gatedChats{
		ChatRepository: s.env.store.Chats(),
		gate:           make(chan struct{}),
		entered:        make(chan struct{}, 1),
	}
	chats := NewChatService(repo, s.env.store.Users(), s.env.messages, zap.NewNop())

	ctxA, cancelA := context.WithCancel(s.ctx)
	errA := make(chan error, 1)
	go func() {
		_, err := chats.GetOrCreateDirect(ctxA, alice.ID, bob.ID)
		errA <- err
	}()
	select {
	case <-repo.entered:
	case <-time.After(time.Second):
		s.FailNow("creation never started")
	}

	type result struct {
		chat *domain.ChatSession
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		chat, err := chats.GetOrCreateDirect(s.ctx, bob.ID, alice.ID)
		resB <- result{chat, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.FailNow("cancelled caller did not return")
	}

	close(repo.gate)
	select {
	case r := <-resB:
		s.Require().NoError(r.err)
		s.Equal(domain.DirectChatID(alice.ID, bob.ID), r.chat.ID)
	case <-time.After(time.Second):
		s.FailNow("second caller did not return")
	}

	stored, err := s.env.store.Chats().GetByID(s.ctx, domain.DirectChatID(alice.ID, bob.ID))
	s.Require().NoError(err)
	s.NotNil(stored)
}

func (s *serviceSuite) TestGetOrCreateDirectRejectsSelfAndUnknown() {
	alice := s.register("alice")

	_, err := s.env.chats.GetOrCreateDirect(s.ctx, alice.ID, alice.ID)
	var verrs validator.ValidationErrors
	s.ErrorAs(err, &verrs)

	_, err = s.env.chats.GetOrCreateDirect(s.ctx, alice.ID, "ghost")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *serviceSuite) TestEnsureGlobalGroupIsIdempotent() {
	first, err := s.env.chats.EnsureGlobalGroup(s.ctx)
	s.Require().NoError(err)
	alice := s.register("alice")
	_, err = s.env.chats.JoinGroup(s.ctx, domain.GlobalGroupID, alice.ID)
	s.Require().NoError(err)

	second, err := s.env.chats.EnsureGlobalGroup(s.ctx)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.True(second.HasParticipant(alice.ID), "ensuring again must not reset membership")
	s.Require().NotNil(second.GroupName)
	s.Equal(domain.GlobalGroupName, *second.GroupName)
}

func (s *serviceSuite) TestJoinGroupAnnouncesOnce() {
	alice := s.register("alice")

	changed, err := s.env.chats.JoinGroup(s.ctx, domain.GlobalGroupID, alice.ID)
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.env.chats.JoinGroup(s.ctx, domain.GlobalGroupID, alice.ID)
	s.Require().NoError(err)
	s.False(changed)

	msgs, err := s.env.messages.List(s.ctx, alice.ID, domain.GlobalGroupID)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(domain.MessageTypeSystem, msgs[0].Type)
	s.Equal(domain.SystemUserID, msgs[0].SenderID)
	s.Equal("alice joined the group", msgs[0].Text)
}

func (s *serviceSuite) TestConcurrentJoinKeepsOneEntryPerUser() {
	alice := s.register("alice")
	bob := s.register("bob")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, u := range []*domain.User{alice, bob} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := s.env.chats.JoinGroup(s.ctx, domain.GlobalGroupID, id)
				s.NoError(err)
			}(u.ID)
		}
	}
	wg.Wait()

	group, err := s.env.chats.Get(s.ctx, domain.GlobalGroupID)
	s.Require().NoError(err)
	s.ElementsMatch([]string{alice.ID, bob.ID}, group.Participants.IDs())

	msgs, err := s.env.messages.List(s.ctx, alice.ID, domain.GlobalGroupID)
	s.Require().NoError(err)
	s.Len(msgs, 2, "one join notice per user")
}

func (s *serviceSuite) TestJoinGroupErrors() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	_, err := s.env.chats.JoinGroup(s.ctx, "nope", alice.ID)
	s.ErrorIs(err, ErrChatNotFound)

	_, err = s.env.chats.JoinGroup(s.ctx, chat.ID, alice.ID)
	s.ErrorIs(err, ErrNotGroup)
}

func (s *serviceSuite) TestListForUserIncludesGroupAndSortsByActivity() {
	alice := s.register("alice")
	bob := s.register("bob")
	carol := s.register("carol")

	withBob := s.direct(alice, bob)
	withCarol := s.direct(alice, carol)
	s.direct(bob, carol)

	s.send(withBob.ID, alice, "first")
	s.send(withCarol.ID, carol, "second")

	chats, err := s.env.chats.ListForUser(s.ctx, alice.ID)
	s.Require().NoError(err)

	ids := make([]string, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	s.Equal([]string{withCarol.ID, withBob.ID, domain.GlobalGroupID}, ids)
}

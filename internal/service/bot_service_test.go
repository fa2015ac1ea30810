package service

import (
	"sync"
	"time"

	"github.com/vedran77/mavis/internal/domain"
)

func (s *serviceSuite) botReplies(chatID string) []domain.Message {
	s.env.bot.Wait()
	msgs, err := s.env.store.Messages().ListByChat(s.ctx, chatID)
	s.Require().NoError(err)
	var out []domain.Message
	for _, m := range msgs {
		if m.SenderID == domain.SupportBotID {
			out = append(out, m)
		}
	}
	return out
}

func (s *serviceSuite) TestEnsureBotIsIdempotent() {
	bot, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.SupportBotID, bot.ID)
	s.True(bot.IsBot)
	s.True(bot.IsAdmin)

	again, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)
	s.Equal(bot.ID, again.ID)
}

func (s *serviceSuite) TestBotAnswersStart() {
	alice := s.register("alice")
	bot, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)
	ticket := s.direct(alice, bot)

	s.send(ticket.ID, alice, "/START")

	replies := s.botReplies(ticket.ID)
	s.Require().Len(replies, 1)
	s.Equal(GreetingText, replies[0].Text)
}

func (s *serviceSuite) TestBotAcknowledgesUnknownText() {
	alice := s.register("alice")
	bot, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)
	ticket := s.direct(alice, bot)

	s.send(ticket.ID, alice, "/unknown-text")

	replies := s.botReplies(ticket.ID)
	s.Require().Len(replies, 1)
	s.Equal(ReceivedText, replies[0].Text)
}

func (s *serviceSuite) TestBotIgnoresOtherChats() {
	alice := s.register("alice")
	bob := s.register("bob")
	chat := s.direct(alice, bob)

	s.send(chat.ID, alice, "/help")
	s.Empty(s.botReplies(chat.ID))
}

func (s *serviceSuite) TestReplyFor() {
	text, delay := s.env.bot.ReplyFor("  /Help ")
	s.Equal(HelpText, text)
	s.Zero(delay)

	scaled := NewBotService(s.env.store.Users(), s.env.store.Chats(), s.env.messages, 1, zapNop())
	defer scaled.Close()
	_, delay = scaled.ReplyFor("/start")
	s.Equal(600*time.Millisecond, delay)
	_, delay = scaled.ReplyFor("hello")
	s.Equal(time.Second, delay)
}

func (s *serviceSuite) TestCloseDropsPendingReplies() {
	alice := s.register("alice")
	bot, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)
	ticket := s.direct(alice, bot)

	slow := NewBotService(s.env.store.Users(), s.env.store.Chats(), s.env.messages, 100, zapNop())
	s.send(ticket.ID, alice, "/start")
	slow.Close()

	// Only the immediate bot replied.
	s.Len(s.botReplies(ticket.ID), 1)
}

func (s *serviceSuite) TestOperatorConsole() {
	root := s.admin()
	alice := s.register("alice")
	bob := s.register("bob")
	bot, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)

	aliceTicket := s.direct(alice, bot)
	bobTicket := s.direct(bob, bot)
	s.direct(alice, bob)

	s.send(aliceTicket.ID, alice, "help me")
	s.env.bot.Wait()
	s.send(bobTicket.ID, bob, "me too")
	s.env.bot.Wait()

	_, err = s.env.bot.Tickets(s.ctx, alice.ID)
	s.ErrorIs(err, ErrNotAdmin)

	tickets, err := s.env.bot.Tickets(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Require().Len(tickets, 2)
	s.Equal(bobTicket.ID, tickets[0].ID)
	s.Equal(aliceTicket.ID, tickets[1].ID)
	s.Require().NotNil(tickets[0].Customer)
	s.Equal(bob.ID, tickets[0].Customer.ID)

	reply, err := s.env.bot.ReplyAsBot(s.ctx, root.ID, aliceTicket.ID, "On it!")
	s.Require().NoError(err)
	s.Equal(bot.ID, reply.SenderID)

	closing, err := s.env.bot.CloseTicket(s.ctx, root.ID, aliceTicket.ID)
	s.Require().NoError(err)
	s.Equal(domain.MessageTypeSystem, closing.Type)
	s.Equal(ClosedText, closing.Text)

	tickets, err = s.env.bot.Tickets(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal(aliceTicket.ID, tickets[0].ID, "closing is not persisted; the ticket stays listed")

	_, err = s.env.bot.ReplyAsBot(s.ctx, root.ID, domain.GlobalGroupID, "nope")
	s.ErrorIs(err, ErrNotTicket)
}

func (s *serviceSuite) TestBotTexts() {
	s.Contains(GreetingText, "Welcome to Mavis Support!")
	s.Contains(GreetingText, "Press **START** to begin!")
	s.Contains(HelpText, "/start - Restart the conversation")
	s.Contains(HelpText, "/help - View this help menu")
	s.Contains(ReceivedText, "Request Received")
	s.Contains(ReceivedText, "Ticket ID: #REQ-8492")
	s.Equal("Ticket closed.", ClosedText)
}

func (s *serviceSuite) TestBotStaysQuietAfterClose() {
	alice := s.register("alice")
	bot, err := s.env.bot.EnsureBot(s.ctx)
	s.Require().NoError(err)
	ticket := s.direct(alice, bot)

	// Sends racing Close must neither panic nor leave replies behind.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.env.messages.Send(s.ctx, ticket.ID, alice.ID, SendMessageInput{Text: "hello"})
			s.NoError(err)
		}()
	}
	s.env.bot.Close()
	wg.Wait()

	before := len(s.botReplies(ticket.ID))
	s.send(ticket.ID, alice, "/help")
	s.Len(s.botReplies(ticket.ID), before)
}

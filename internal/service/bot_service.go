package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
)

var ErrNotTicket = fmt.Errorf("chat is not a support ticket: %w", ErrNotFound)

const (
	BotUsername    = "MavisSupport"
	BotDisplayName = "Mavis Support"

	GreetingText = "👋 **Welcome to Mavis Support!**\n\n" +
		"I am the official automated assistant for MavisChat. I'm here to help you navigate the app and resolve common issues.\n\n" +
		"**What can I do?**\n" +
		"🔹 Reset passwords\n" +
		"🔹 Troubleshoot connection issues\n" +
		"🔹 Forward complex requests to human operators\n\n" +
		"Press **START** to begin!"
	HelpText = "🛠 **Mavis Support Commands**\n\n" +
		"Here is a list of available commands:\n\n" +
		"/start - Restart the conversation\n" +
		"/help - View this help menu\n\n" +
		"If you have a specific question, simply type it below and a support agent will be notified."
	ReceivedText = "✅ **Request Received**\n\n" +
		"Thank you for contacting support. Your message has been logged.\n\n" +
		"Ticket ID: #REQ-8492\n\n" +
		"An available operator will review your inquiry and respond shortly."
	ClosedText = "Ticket closed."
)

const (
	commandDelay = 600 * time.Millisecond
	receiptDelay = 1000 * time.Millisecond
)

// TicketView is a direct chat with the support bot, as listed in the operator
// console.
type TicketView struct {
	domain.ChatSession
	Customer *domain.User `json:"customer,omitempty"`
}

// BotService runs the support bot. It answers direct messages sent to the bot
// after a short delay and backs the operator console.
type BotService struct {
	users    repository.UserRepository
	chats    repository.ChatRepository
	messages *MessageService
	logger   *zap.Logger
	scale    float64
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	closeMu sync.Mutex
	closed  bool

	mu    sync.RWMutex
	botID string
}

// NewBotService builds the bot. delayScale multiplies the reply delays; 0
// replies without waiting. The bot registers itself as an observer of sent
// messages.
func NewBotService(
	users repository.UserRepository,
	chats repository.ChatRepository,
	messages *MessageService,
	delayScale float64,
	logger *zap.Logger,
) *BotService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &BotService{
		users:    users,
		chats:    chats,
		messages: messages,
		logger:   logger.With(zap.String("component", "bot")),
		scale:    delayScale,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		botID:    domain.SupportBotID,
	}
	messages.AddObserver(s)
	return s
}

// EnsureBot resolves the bot identity: the well-known id first, then any
// existing bot account, and otherwise creates it.
func (s *BotService) EnsureBot(ctx context.Context) (*domain.User, error) {
	bot, err := s.users.GetByID(ctx, domain.SupportBotID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		if bot, err = s.users.FindBot(ctx); err != nil {
			return nil, err
		}
	}
	if bot == nil {
		now := s.now().UTC()
		bot = &domain.User{
			ID:                   domain.SupportBotID,
			Username:             BotUsername,
			DisplayName:          BotDisplayName,
			Email:                "support@mavis.chat",
			Bio:                  "Official support account",
			AvatarColor:          AvatarPalette[3],
			IsAdmin:              true,
			IsBot:                true,
			NotificationsEnabled: true,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.users.Create(ctx, bot); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("creating bot: %w", err)
			}
			// Lost a creation race.
			if bot, err = s.users.GetByID(ctx, domain.SupportBotID); err != nil || bot == nil {
				return nil, fmt.Errorf("loading bot after conflict: %w", errors.Join(err, ErrUserNotFound))
			}
		} else {
			s.logger.Info("support bot created", zap.String("user_id", bot.ID))
		}
	}

	s.mu.Lock()
	s.botID = bot.ID
	s.mu.Unlock()
	s.messages.AllowSystemSender(bot.ID)
	return bot, nil
}

func (s *BotService) BotID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botID
}

// ReplyFor maps inbound text to the bot's reply and its delay. Commands match
// case-insensitively and exactly.
func (s *BotService) ReplyFor(text string) (string, time.Duration) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/start":
		return GreetingText, s.scaled(commandDelay)
	case "/help":
		return HelpText, s.scaled(commandDelay)
	default:
		return ReceivedText, s.scaled(receiptDelay)
	}
}

func (s *BotService) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * s.scale)
}

// MessageSent schedules a reply to messages users send in a direct chat with
// the bot.
func (s *BotService) MessageSent(_ context.Context, chat *domain.ChatSession, msg *domain.Message) {
	botID := s.BotID()
	if chat.IsGroup || !chat.HasParticipant(botID) {
		return
	}
	if msg.SenderID == botID || msg.SenderID == domain.SystemUserID || msg.Type == domain.MessageTypeSystem {
		return
	}

	reply, delay := s.ReplyFor(msg.Text)

	// Add must not race the Wait in Close.
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.pending.Add(1)
	s.closeMu.Unlock()

	go func() {
		defer s.pending.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
			}
		}
		if s.ctx.Err() != nil {
			return
		}
		if _, err := s.messages.Send(s.ctx, chat.ID, botID, SendMessageInput{Text: reply}); err != nil {
			s.logger.Error("bot reply failed", zap.String("chat_id", chat.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until every scheduled reply has been sent or dropped.
func (s *BotService) Wait() {
	s.pending.Wait()
}

// Close drops replies that have not been sent yet and waits for in-flight
// ones. Messages sent after Close get no reply.
func (s *BotService) Close() {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	s.pending.Wait()
}

// Tickets lists direct chats with the bot, most recent message first.
func (s *BotService) Tickets(ctx context.Context, operatorID string) ([]TicketView, error) {
	if err := requireAdmin(ctx, s.users, operatorID); err != nil {
		return nil, err
	}

	botID := s.BotID()
	chats, err := s.chats.ListByParticipant(ctx, botID)
	if err != nil {
		return nil, err
	}

	var direct []domain.ChatSession
	for _, c := range chats {
		if c.IsDirect() {
			direct = append(direct, c)
		}
	}
	sort.SliceStable(direct, func(i, j int) bool {
		return direct[i].LastActivity().After(direct[j].LastActivity())
	})

	tickets := make([]TicketView, 0, len(direct))
	for _, c := range direct {
		view := TicketView{ChatSession: c}
		customer, err := s.users.GetByID(ctx, c.OtherParticipant(botID))
		if err != nil {
			return nil, err
		}
		view.Customer = customer
		tickets = append(tickets, view)
	}
	return tickets, nil
}

// ReplyAsBot posts text into a ticket on the bot's behalf.
func (s *BotService) ReplyAsBot(ctx context.Context, operatorID, chatID, text string) (*domain.Message, error) {
	if err := s.requireTicket(ctx, operatorID, chatID); err != nil {
		return nil, err
	}
	return s.messages.Send(ctx, chatID, s.BotID(), SendMessageInput{Text: text})
}

// CloseTicket posts the closing notice. Nothing about the chat itself changes.
func (s *BotService) CloseTicket(ctx context.Context, operatorID, chatID string) (*domain.Message, error) {
	if err := s.requireTicket(ctx, operatorID, chatID); err != nil {
		return nil, err
	}
	return s.messages.Send(ctx, chatID, s.BotID(), SendMessageInput{Text: ClosedText, Type: string(domain.MessageTypeSystem)})
}

func (s *BotService) requireTicket(ctx context.Context, operatorID, chatID string) error {
	if err := requireAdmin(ctx, s.users, operatorID); err != nil {
		return err
	}
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil || chat.IsGroup || !chat.HasParticipant(s.BotID()) {
		return ErrNotTicket
	}
	return nil
}

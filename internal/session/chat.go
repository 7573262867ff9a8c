package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

const chatFallbackMessage = "Sorry, there was an error processing your question."

type ChatSender interface {
	Chat(ctx context.Context, findingID int64, question string) (*domain.ChatAnswer, error)
}

// ChatSession is one running transcript. Selecting another finding rebinds
// the session and appends a context message; the transcript is kept.
type ChatSession struct {
	api    ChatSender
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	finding    *domain.Finding
	transcript []domain.ChatMessage
	busy       bool
}

func NewChatSession(api ChatSender, logger *slog.Logger) *ChatSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSession{api: api, logger: logger, now: time.Now}
}

// SelectFinding binds the session to f. Re-selecting the bound finding is a no-op.
func (s *ChatSession) SelectFinding(f domain.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finding != nil && s.finding.ID == f.ID {
		return
	}
	bound := f
	s.finding = &bound
	s.transcript = append(s.transcript, s.message(domain.RoleAssistant, contextMessage(f), f.ID, ""))
}

// Send posts question about the bound finding and returns the assistant reply.
// On failure the reply is the fallback message and the error is a *ChatSendError.
func (s *ChatSession) Send(ctx context.Context, question string) (domain.ChatMessage, error) {
	question = strings.TrimSpace(question)

	s.mu.Lock()
	switch {
	case s.finding == nil:
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrNoFinding
	case s.busy:
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrChatBusy
	case question == "":
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrEmptyQuestion
	}
	s.busy = true
	findingID := s.finding.ID
	pending := s.message(domain.RoleUser, question, findingID, domain.DeliveryPending)
	s.transcript = append(s.transcript, pending)
	s.mu.Unlock()

	answer, err := s.api.Chat(ctx, findingID, question)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if err != nil {
		s.setState(pending.ID, domain.DeliveryFailed)
		reply := s.message(domain.RoleAssistant, chatFallbackMessage, findingID, "")
		s.transcript = append(s.transcript, reply)
		s.logger.Warn("chat_send_failed", "finding_id", findingID, "error", err)
		return reply, &ChatSendError{FindingID: findingID, Err: err}
	}

	s.setState(pending.ID, domain.DeliveryConfirmed)
	reply := s.message(domain.RoleAssistant, answer.Answer, findingID, "")
	s.transcript = append(s.transcript, reply)
	return reply, nil
}

func (s *ChatSession) Transcript() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *ChatSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *ChatSession) Finding() (domain.Finding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finding == nil {
		return domain.Finding{}, false
	}
	return *s.finding, true
}

func (s *ChatSession) setState(id string, state domain.DeliveryState) {
	for i := range s.transcript {
		if s.transcript[i].ID == id {
			s.transcript[i].State = state
			return
		}
	}
}

func (s *ChatSession) message(role domain.ChatRole, content string, findingID int64, state domain.DeliveryState) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		FindingID: findingID,
		State:     state,
		Timestamp: s.now(),
	}
}

func contextMessage(f domain.Finding) string {
	return fmt.Sprintf("Let's look at this %s finding on page %d (%s severity): %s. What would you like to know?",
		strings.ToLower(strings.ReplaceAll(string(f.Category), "_", " ")), f.PageNum, f.Severity, f.Summary)
}

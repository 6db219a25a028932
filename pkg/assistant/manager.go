package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stagecraftai/stagecraft-oss/pkg/config"
	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's ordered message list. Assistant
// messages may carry an extracted pipeline proposal.
type Message struct {
	ID        string
	Role      Role
	Content   string
	ImageRef  string
	Proposal  *config.PipelinePayload
	CreatedAt time.Time
}

// Session is one conversational authoring context. Its message list is owned
// exclusively by the session.
type Session struct {
	ID         string
	PipelineID string
	Messages   []Message
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Summary is the listing view of a session.
type Summary struct {
	ID                 string
	PipelineID         string
	MessageCount       int
	LastMessagePreview string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const previewLimit = 80

// Responder is the opaque conversational capability. It receives the session
// history plus the new user text and returns the assistant's reply text,
// which may embed a fenced pipeline proposal.
type Responder interface {
	Respond(ctx context.Context, req RespondRequest) (string, error)
}

// RespondRequest carries everything the responder may condition on.
type RespondRequest struct {
	History  []Message
	Text     string
	ImageRef string
	// PipelineContext is the current pipeline, when the conversation is
	// attached to one, so the responder can propose edits to it.
	PipelineContext *config.PipelinePayload
}

// SendOptions are the optional parts of a message send.
type SendOptions struct {
	ImageRef        string
	PipelineContext *config.PipelinePayload
}

// SendResult reports a completed send: the appended user and assistant
// messages and any proposal extracted from the reply.
type SendResult struct {
	SessionID        string
	UserMessage      Message
	AssistantMessage Message
	Proposal         *config.PipelinePayload
}

// Manager owns the chat sessions and mediates sends to the responder.
// Methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	responder Responder
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a session manager backed by the given responder.
// Metrics may be nil to disable recording.
func NewManager(responder Responder, metrics *Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		responder: responder,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateSession opens a new session, optionally attached to a pipeline.
func (m *Manager) CreateSession(pipelineID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(pipelineID)
}

func (m *Manager) createLocked(pipelineID string) *Session {
	now := m.now()
	session := &Session{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.sessions[session.ID] = session
	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
	}
	m.logger.Info("chat session created", "session_id", session.ID, "pipeline_id", pipelineID)
	return session
}

// ListSessions returns summaries, newest first. A non-empty pipelineID
// filters to sessions attached to that pipeline.
func (m *Manager) ListSessions(pipelineID string) []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		if pipelineID != "" && s.PipelineID != pipelineID {
			continue
		}
		summaries = append(summaries, summarize(s))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// GetSession returns a copy of the session with its full message list.
func (m *Manager) GetSession(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return cloneSession(session), nil
}

// DeleteSession removes the session and its messages.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	if m.metrics != nil {
		m.metrics.RecordSessionClosed(m.now().Sub(session.CreatedAt))
	}
	m.logger.Info("chat session deleted", "session_id", id, "messages", len(session.Messages))
	return nil
}

// SendMessage appends the user's message optimistically, obtains the
// assistant's reply, and appends it together with any extracted proposal.
// On responder failure the optimistic user message is rolled back and the
// error is returned. An empty sessionID creates a session implicitly.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string, opts SendOptions) (SendResult, error) {
	start := m.now()

	m.mu.Lock()
	var session *Session
	if sessionID == "" {
		session = m.createLocked(opts.pipelineID())
	} else {
		var ok bool
		session, ok = m.sessions[sessionID]
		if !ok {
			m.mu.Unlock()
			return SendResult{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
	}
	userMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		ImageRef:  opts.ImageRef,
		CreatedAt: m.now(),
	}
	session.Messages = append(session.Messages, userMsg)
	history := cloneMessages(session.Messages[:len(session.Messages)-1])
	id := session.ID
	m.mu.Unlock()

	reply, err := m.responder.Respond(ctx, RespondRequest{
		History:         history,
		Text:            text,
		ImageRef:        opts.ImageRef,
		PipelineContext: opts.PipelineContext,
	})
	if err != nil {
		m.rollback(id, userMsg.ID)
		if m.metrics != nil {
			m.metrics.RecordMessage("error", m.now().Sub(start))
			m.metrics.RecordRollback()
		}
		m.logger.Warn("message send failed, rolled back", "session_id", id, "error", err)
		return SendResult{}, fmt.Errorf("assistant send: %w", err)
	}

	proposal, _ := ExtractProposal(reply)
	assistantMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   reply,
		Proposal:  proposal,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	if current, ok := m.sessions[id]; ok {
		current.Messages = append(current.Messages, assistantMsg)
		current.UpdatedAt = m.now()
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordMessage("success", m.now().Sub(start))
		if proposal != nil {
			m.metrics.RecordProposal()
		}
	}

	return SendResult{
		SessionID:        id,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Proposal:         proposal,
	}, nil
}

// rollback removes an optimistically appended message. The session may have
// been deleted while the responder call was in flight; that is not an error.
func (m *Manager) rollback(sessionID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].ID == messageID {
			session.Messages = append(session.Messages[:i], session.Messages[i+1:]...)
			return
		}
	}
}

func (o SendOptions) pipelineID() string {
	if o.PipelineContext != nil {
		return o.PipelineContext.Name
	}
	return ""
}

func summarize(s *Session) Summary {
	preview := ""
	if n := len(s.Messages); n > 0 {
		preview = s.Messages[n-1].Content
		if len(preview) > previewLimit {
			cut := previewLimit
			for cut > 0 && !utf8.RuneStart(preview[cut]) {
				cut--
			}
			preview = strings.TrimSpace(preview[:cut]) + "…"
		}
	}
	return Summary{
		ID:                 s.ID,
		PipelineID:         s.PipelineID,
		MessageCount:       len(s.Messages),
		LastMessagePreview: preview,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func cloneSession(s *Session) Session {
	out := *s
	out.Messages = cloneMessages(s.Messages)
	return out
}

func cloneMessages(msgs []Message) []Message {
	return append([]Message(nil), msgs...)
}

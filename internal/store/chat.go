package store

import (
	"context"
	"fmt"
	"strings"

	"agri-price/internal/apierr"
	"agri-price/internal/models"

	"github.com/google/uuid"
)

// CreateConversation starts a conversation. userID may be nil for guests.
func (s *Store) CreateConversation(ctx context.Context, userID *uuid.UUID, title, language string) (*models.ChatConversation, error) {
	conv := &models.ChatConversation{UserID: userID}
	if t := strings.TrimSpace(title); t != "" {
		conv.Title = &t
	}
	if l := strings.TrimSpace(language); l != "" {
		conv.Language = &l
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ChatConversation, error) {
	if userID == uuid.Nil {
		return nil, apierr.Unauthorized("sign in to view conversations")
	}
	var out []models.ChatConversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Limit(PageSize).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return out, nil
}

// Conversation loads a conversation visible to userID. Guest conversations
// are visible to anyone holding the id.
func (s *Store) Conversation(ctx context.Context, userID *uuid.UUID, id uuid.UUID) (*models.ChatConversation, error) {
	var conv models.ChatConversation
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.ID == uuid.Nil {
		return nil, apierr.NotFound("conversation not found")
	}
	if conv.UserID != nil && (userID == nil || *conv.UserID != *userID) {
		return nil, apierr.Forbidden("conversation belongs to another user")
	}
	return &conv, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return out, nil
}

// AppendMessage adds a message and bumps the conversation's updated_at.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*models.ChatMessage, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, apierr.Invalid("role must be user or assistant")
	}
	msg := &models.ChatMessage{ConversationID: conversationID, Role: role, Content: content}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	err := s.db.WithContext(ctx).
		Model(&models.ChatConversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", msg.CreatedAt).Error
	if err != nil {
		return msg, fmt.Errorf("failed to touch conversation: %w", err)
	}
	return msg, nil
}

package sqlstore

import (
	"context"
	"time"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) SessionByConversation(ctx context.Context, conversationID string) (*domain.VoiceSession, error) {
	var row voiceSessionRow
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Take(&row).Error
	if err != nil {
		return nil, translate(err, "session of conversation %s", conversationID)
	}
	return row.toDomain(), nil
}

// UpsertSession relies on the unique conversation index: concurrent callers
// all insert-or-ignore and then read back the single winning row.
func (s *Store) UpsertSession(ctx context.Context, conversationID, roomID string) (*domain.VoiceSession, error) {
	var out voiceSessionRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := voiceSessionRow{ID: uuid.NewString(), ConversationID: conversationID, RoomID: roomID}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoNothing: true,
		}).Create(&row).Error
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ?", conversationID).Take(&out).Error; err != nil {
			return err
		}
		if out.RoomID == "" && roomID != "" {
			out.RoomID = roomID
			return tx.Model(&voiceSessionRow{}).Where("id = ?", out.ID).Update("room_id", roomID).Error
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "upsert session of conversation %s", conversationID)
	}
	return out.toDomain(), nil
}

func (s *Store) SessionOfUser(ctx context.Context, user domain.UserID) (*domain.VoiceSession, error) {
	var row voiceSessionRow
	err := s.db.WithContext(ctx).
		Joins("JOIN voice_participants ON voice_participants.session_id = voice_sessions.id").
		Where("voice_participants.user_id = ?", user.String()).
		Order("voice_participants.joined_at DESC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err, "session of user %s", user)
	}
	return row.toDomain(), nil
}

func (s *Store) AddParticipant(ctx context.Context, sessionID string, user domain.UserID) (*domain.VoiceParticipant, error) {
	var out voiceParticipantRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the session row lock orders us against RemoveParticipant deleting it
		var sess voiceSessionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", sessionID).Take(&sess).Error; err != nil {
			return err
		}
		row := voiceParticipantRow{SessionID: sessionID, UserID: user.String(), JoinedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ? AND user_id = ?", sessionID, user.String()).Take(&out).Error
	})
	if err != nil {
		return nil, translate(err, "add %s to session %s", user, sessionID)
	}
	p := out.toDomain()
	return &p, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, sessionID string, user domain.UserID) (int, error) {
	var remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess voiceSessionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", sessionID).Take(&sess).Error; err != nil {
			return err
		}
		res := tx.Where("session_id = ? AND user_id = ?", sessionID, user.String()).Delete(&voiceParticipantRow{})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Model(&voiceParticipantRow{}).Where("session_id = ?", sessionID).Count(&remaining).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if remaining == 0 {
			return tx.Where("id = ?", sessionID).Delete(&voiceSessionRow{}).Error
		}
		return nil
	})
	if err != nil {
		return int(remaining), translate(err, "remove %s from session %s", user, sessionID)
	}
	return int(remaining), nil
}

func (s *Store) Participants(ctx context.Context, sessionID string) ([]domain.VoiceParticipant, error) {
	var rows []voiceParticipantRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("user_id").Find(&rows).Error
	if err != nil {
		return nil, translate(err, "participants of session %s", sessionID)
	}
	out := make([]domain.VoiceParticipant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) SetMuted(ctx context.Context, sessionID string, user domain.UserID, muted bool) (*domain.VoiceParticipant, error) {
	var out voiceParticipantRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&voiceParticipantRow{}).
			Where("session_id = ? AND user_id = ?", sessionID, user.String()).
			Update("is_muted", muted)
		if res.Error != nil {
			return res.Error
		}
		// RowsAffected is 0 on MySQL when the value did not change, so read back instead
		return tx.Where("session_id = ? AND user_id = ?", sessionID, user.String()).Take(&out).Error
	})
	if err != nil {
		return nil, translate(err, "mute %s in session %s", user, sessionID)
	}
	p := out.toDomain()
	return &p, nil
}

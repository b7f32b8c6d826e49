package sqlstore

import (
	"context"
	"time"

	"github.com/dkeye/squadlink/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateGroup(ctx context.Context, g *domain.GroupVoiceSession) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := groupSessionRow{
			ID:         g.ID,
			Name:       g.Name,
			CreatorID:  g.CreatorID.String(),
			InviteCode: g.InviteCode,
			RoomID:     g.ExternalRoomID,
			CreatedAt:  g.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		g.CreatedAt = row.CreatedAt
		return tx.Create(&groupMemberRow{ChannelID: g.ID, UserID: g.CreatorID.String(), JoinedAt: time.Now().UTC()}).Error
	})
	return translate(err, "create group %s", g.ID)
}

func (s *Store) Group(ctx context.Context, id string) (*domain.GroupVoiceSession, error) {
	var row groupSessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err, "group %s", id)
	}
	g := row.toDomain()
	return &g, nil
}

func (s *Store) GroupByInviteCode(ctx context.Context, code string) (*domain.GroupVoiceSession, error) {
	var row groupSessionRow
	if err := s.db.WithContext(ctx).Where("invite_code = ?", code).Take(&row).Error; err != nil {
		return nil, translate(err, "group by invite code")
	}
	g := row.toDomain()
	return &g, nil
}

func (s *Store) GroupsOf(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceSession, error) {
	var rows []groupSessionRow
	err := s.db.WithContext(ctx).
		Joins("JOIN group_voice_members ON group_voice_members.channel_id = group_voice_sessions.id").
		Where("group_voice_members.user_id = ?", user.String()).
		Order("group_voice_sessions.created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "groups of %s", user)
	}
	out := make([]domain.GroupVoiceSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// SetGroupRoom stores roomID unless the channel already has a room.
func (s *Store) SetGroupRoom(ctx context.Context, id, roomID string) (*domain.GroupVoiceSession, error) {
	var row groupSessionRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&groupSessionRow{}).
			Where("id = ? AND (room_id = '' OR room_id IS NULL)", id).
			Update("room_id", roomID).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&row).Error
	})
	if err != nil {
		return nil, translate(err, "set room of group %s", id)
	}
	g := row.toDomain()
	return &g, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&groupInviteRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", id).Delete(&groupMemberRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&groupSessionRow{}).Error
	})
	return translate(err, "delete group %s", id)
}

func (s *Store) AddMember(ctx context.Context, channelID string, user domain.UserID) (*domain.GroupVoiceMember, error) {
	var out groupMemberRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g groupSessionRow
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Where("id = ?", channelID).Take(&g).Error; err != nil {
			return err
		}
		row := groupMemberRow{ChannelID: channelID, UserID: user.String(), JoinedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("channel_id = ? AND user_id = ?", channelID, user.String()).Take(&out).Error
	})
	if err != nil {
		return nil, translate(err, "add %s to group %s", user, channelID)
	}
	m := out.toDomain()
	return &m, nil
}

func (s *Store) RemoveMember(ctx context.Context, channelID string, user domain.UserID) (int, error) {
	var remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("channel_id = ? AND user_id = ?", channelID, user.String()).Delete(&groupMemberRow{})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Model(&groupMemberRow{}).Where("channel_id = ?", channelID).Count(&remaining).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return int(remaining), translate(err, "remove %s from group %s", user, channelID)
	}
	return int(remaining), nil
}

func (s *Store) Member(ctx context.Context, channelID string, user domain.UserID) (*domain.GroupVoiceMember, error) {
	var row groupMemberRow
	err := s.db.WithContext(ctx).Where("channel_id = ? AND user_id = ?", channelID, user.String()).Take(&row).Error
	if err != nil {
		return nil, translate(err, "member %s of group %s", user, channelID)
	}
	m := row.toDomain()
	return &m, nil
}

func (s *Store) Members(ctx context.Context, channelID string) ([]domain.GroupVoiceMember, error) {
	var rows []groupMemberRow
	if err := s.db.WithContext(ctx).Where("channel_id = ?", channelID).Order("user_id").Find(&rows).Error; err != nil {
		return nil, translate(err, "members of group %s", channelID)
	}
	out := make([]domain.GroupVoiceMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) setMemberFlag(ctx context.Context, channelID string, user domain.UserID, column string, v bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row groupMemberRow
		if err := tx.Where("channel_id = ? AND user_id = ?", channelID, user.String()).Take(&row).Error; err != nil {
			return err
		}
		return tx.Model(&groupMemberRow{}).
			Where("channel_id = ? AND user_id = ?", channelID, user.String()).
			Update(column, v).Error
	})
	return translate(err, "set %s of %s in group %s", column, user, channelID)
}

func (s *Store) SetMemberActive(ctx context.Context, channelID string, user domain.UserID, active bool) error {
	return s.setMemberFlag(ctx, channelID, user, "is_active", active)
}

func (s *Store) SetMemberMuted(ctx context.Context, channelID string, user domain.UserID, muted bool) error {
	return s.setMemberFlag(ctx, channelID, user, "is_muted", muted)
}

func (s *Store) SyncActive(ctx context.Context, channelID string, active []domain.UserID) error {
	ids := make([]string, 0, len(active))
	for _, u := range active {
		ids = append(ids, u.String())
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		off := tx.Model(&groupMemberRow{}).Where("channel_id = ?", channelID)
		if len(ids) > 0 {
			off = off.Where("user_id NOT IN ?", ids)
		}
		if err := off.Update("is_active", false).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&groupMemberRow{}).
			Where("channel_id = ? AND user_id IN ?", channelID, ids).
			Update("is_active", true).Error
	})
	return translate(err, "sync active members of group %s", channelID)
}

func (s *Store) ClearActive(ctx context.Context, user domain.UserID) error {
	err := s.db.WithContext(ctx).Model(&groupMemberRow{}).
		Where("user_id = ? AND is_active = ?", user.String(), true).
		Update("is_active", false).Error
	return translate(err, "clear active flags of %s", user)
}

func (s *Store) CreateInvite(ctx context.Context, inv *domain.GroupVoiceInvite) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g groupSessionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", inv.ChannelID).Take(&g).Error; err != nil {
			return err
		}
		var pending int64
		err := tx.Model(&groupInviteRow{}).
			Where("channel_id = ? AND invitee_id = ? AND status = ?", inv.ChannelID, inv.InviteeID.String(), string(domain.InvitePending)).
			Count(&pending).Error
		if err != nil {
			return err
		}
		if pending > 0 {
			return gorm.ErrDuplicatedKey
		}
		status := inv.Status
		if status == "" {
			status = domain.InvitePending
		}
		row := groupInviteRow{
			ID:        inv.ID,
			ChannelID: inv.ChannelID,
			InviterID: inv.InviterID.String(),
			InviteeID: inv.InviteeID.String(),
			Status:    string(status),
			CreatedAt: inv.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		inv.Status = status
		inv.CreatedAt = row.CreatedAt
		return nil
	})
	return translate(err, "invite %s to group %s", inv.InviteeID, inv.ChannelID)
}

func (s *Store) Invite(ctx context.Context, id string) (*domain.GroupVoiceInvite, error) {
	var row groupInviteRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err, "invite %s", id)
	}
	inv := row.toDomain()
	return &inv, nil
}

func (s *Store) pendingInvites(ctx context.Context, column string, user domain.UserID) ([]domain.GroupVoiceInvite, error) {
	var rows []groupInviteRow
	err := s.db.WithContext(ctx).
		Where(column+" = ? AND status = ?", user.String(), string(domain.InvitePending)).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "pending invites by %s of %s", column, user)
	}
	out := make([]domain.GroupVoiceInvite, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) InvitesReceived(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error) {
	return s.pendingInvites(ctx, "invitee_id", user)
}

func (s *Store) InvitesSent(ctx context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error) {
	return s.pendingInvites(ctx, "inviter_id", user)
}

func (s *Store) SetInviteStatus(ctx context.Context, id string, status domain.InviteStatus) (*domain.GroupVoiceInvite, error) {
	var row groupInviteRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		row.Status = string(status)
		row.RespondedAt = &now
		return tx.Model(&groupInviteRow{}).Where("id = ?", id).
			Updates(map[string]any{"status": row.Status, "responded_at": now}).Error
	})
	if err != nil {
		return nil, translate(err, "set status of invite %s", id)
	}
	inv := row.toDomain()
	return &inv, nil
}

func (s *Store) DeleteInvite(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&groupInviteRow{})
	if res.Error != nil {
		return translate(res.Error, "delete invite %s", id)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "delete invite %s", id)
	}
	return nil
}

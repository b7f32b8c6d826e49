package sqlstore

import (
	"context"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	row := notificationRow{
		ID:            n.ID,
		UserID:        n.UserID.String(),
		Type:          string(n.Type),
		Title:         n.Title,
		Message:       n.Message,
		RelatedUserID: n.RelatedUserID.String(),
		ActionURL:     n.ActionURL,
		IsRead:        n.IsRead,
		CreatedAt:     n.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err, "create notification for %s", n.UserID)
	}
	n.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) MarkRead(ctx context.Context, recipient domain.UserID, kind domain.NotificationType, related domain.UserID) (int64, error) {
	res := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND type = ? AND related_user_id = ? AND is_read = ?", recipient.String(), string(kind), related.String(), false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, translate(res.Error, "mark %s notifications of %s read", kind, recipient)
	}
	return res.RowsAffected, nil
}

// Notifications lists the newest notifications of user first.
func (s *Store) Notifications(ctx context.Context, user domain.UserID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", user.String())
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []notificationRow
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, translate(err, "notifications of %s", user)
	}
	out := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

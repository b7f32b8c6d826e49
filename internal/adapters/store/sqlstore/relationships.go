package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/squadlink/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) Relationship(ctx context.Context, id string) (domain.Relationship, error) {
	var m matchConnectionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if err == nil {
		return domain.MatchConnection{
			MatchID:     m.ID,
			RequesterID: domain.UserID(m.RequesterID),
			AccepterID:  domain.UserID(m.AccepterID),
			State:       domain.RelationStatus(m.Status),
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translate(err, "find match connection %s", id)
	}

	var r connectionRequestRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error; err != nil {
		return nil, translate(err, "find relationship %s", id)
	}
	return domain.ConnectionRequest{
		RequestID:  r.ID,
		SenderID:   domain.UserID(r.SenderID),
		ReceiverID: domain.UserID(r.ReceiverID),
		State:      domain.RelationStatus(r.Status),
	}, nil
}

// AcceptedNeighborhood returns each counterpart once, whatever the number of edges.
func (s *Store) AcceptedNeighborhood(ctx context.Context, user domain.UserID) ([]domain.UserID, error) {
	u := user.String()
	accepted := string(domain.StatusAccepted)

	var matches []matchConnectionRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND (requester_id = ? OR accepter_id = ?)", accepted, u, u).
		Find(&matches).Error
	if err != nil {
		return nil, translate(err, "match neighborhood of %s", u)
	}
	var requests []connectionRequestRow
	err = s.db.WithContext(ctx).
		Where("status = ? AND (sender_id = ? OR receiver_id = ?)", accepted, u, u).
		Find(&requests).Error
	if err != nil {
		return nil, translate(err, "request neighborhood of %s", u)
	}

	seen := make(map[string]struct{}, len(matches)+len(requests))
	out := make([]domain.UserID, 0, len(matches)+len(requests))
	add := func(a, b string) {
		other := a
		if a == u {
			other = b
		}
		if other == u {
			return
		}
		if _, ok := seen[other]; ok {
			return
		}
		seen[other] = struct{}{}
		out = append(out, domain.UserID(other))
	}
	for _, m := range matches {
		add(m.RequesterID, m.AccepterID)
	}
	for _, r := range requests {
		add(r.SenderID, r.ReceiverID)
	}
	return out, nil
}

// PutRelationship inserts or updates an edge. Used for dev seeding and tests.
func (s *Store) PutRelationship(ctx context.Context, rel domain.Relationship) error {
	a, b := rel.Participants()
	var row any
	switch rel.Kind() {
	case domain.KindMatch:
		row = &matchConnectionRow{ID: rel.ID(), RequesterID: a.String(), AccepterID: b.String(), Status: string(rel.Status())}
	case domain.KindDirect:
		row = &connectionRequestRow{ID: rel.ID(), SenderID: a.String(), ReceiverID: b.String(), Status: string(rel.Status())}
	default:
		return fmt.Errorf("%w: unknown relationship kind %q", domain.ErrInvalidArgument, rel.Kind())
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status"}),
	}).Create(row).Error
	return translate(err, "put relationship %s", rel.ID())
}

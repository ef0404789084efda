package storage

import (
	"time"

	"github.com/ernie/craftwatch/internal/domain"
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanMessageRef reads channel_id, message_id, updated_at
func scanMessageRef(s scanner) (domain.MessageRef, time.Time, error) {
	var ref domain.MessageRef
	var updatedAt time.Time
	if err := s.Scan(&ref.ChannelID, &ref.MessageID, &updatedAt); err != nil {
		return domain.MessageRef{}, time.Time{}, err
	}
	return ref, updatedAt, nil
}

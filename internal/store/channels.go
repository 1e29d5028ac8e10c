package store

import (
	"context"
	"fmt"
)

const (
	selectUserChannelsQuery  = `SELECT channel_id FROM channel_members WHERE user_id = ? ORDER BY channel_id`
	insertChannelMemberQuery = `INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
	deleteChannelMemberQuery = `DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`
)

// ChannelsForUser returns the channels a user has joined in earlier sessions
func (s *Store) ChannelsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.GetMany(ctx, selectUserChannelsQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan channel id: %w", err)
		}
		channels = append(channels, id)
	}
	return channels, rows.Err()
}

// AddChannelMember records that a user joined a channel
func (s *Store) AddChannelMember(ctx context.Context, channelID, userID int64) error {
	_, err := s.Run(ctx, insertChannelMemberQuery, channelID, userID)
	return err
}

// RemoveChannelMember records that a user left a channel
func (s *Store) RemoveChannelMember(ctx context.Context, channelID, userID int64) error {
	_, err := s.Run(ctx, deleteChannelMemberQuery, channelID, userID)
	return err
}

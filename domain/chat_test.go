package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"market-chat/errors"
)

func Test_Direct_Chat_Normalizes_Pair(t *testing.T) {
	req := require.New(t)

	ab, err := NewDirectChat("alice", "bob")
	req.NoError(err)
	ba, err := NewDirectChat("bob", "alice")
	req.NoError(err)

	// Both orders describe the same canonical pair
	req.Equal(ab.ParticipantIDs(), ba.ParticipantIDs())
	req.False(ab.IsGroup)
	req.True(ab.HasParticipant("alice"))
	req.True(ab.HasParticipant("bob"))
	req.False(ab.HasParticipant("clara"))
}

func Test_Direct_Chat_Rejects_Self_And_Blank(t *testing.T) {
	req := require.New(t)

	_, err := NewDirectChat("alice", "alice")
	req.ErrorIs(err, errors.ErrParticipantCount)

	_, err = NewDirectChat("alice", "")
	req.ErrorIs(err, errors.ErrParticipantCount)
}

func Test_Group_Chat_Invariants(t *testing.T) {
	req := require.New(t)

	_, err := NewGroupChat("", []string{"alice", "bob", "clara"})
	req.ErrorIs(err, errors.ErrGroupNameRequired)

	_, err = NewGroupChat("vinyl hunters", []string{"alice", "bob"})
	req.ErrorIs(err, errors.ErrParticipantCount)

	// Duplicates collapse before the count check
	_, err = NewGroupChat("vinyl hunters", []string{"alice", "bob", "bob"})
	req.ErrorIs(err, errors.ErrParticipantCount)

	chat, err := NewGroupChat("vinyl hunters", []string{"clara", "alice", "bob"})
	req.NoError(err)
	req.True(chat.IsGroup)
	req.Equal([]string{"alice", "bob", "clara"}, chat.ParticipantIDs())
	req.NoError(chat.Validate())
}

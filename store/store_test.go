package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_InsertIsIdempotent(t *testing.T) {
	s := New(DefaultRetentionPolicy())

	m1 := s.Insert("alice", "bob", []byte("hello"))
	m2 := s.Insert("alice", "bob", []byte("hello"))
	require.Equal(t, m1.Hash, m2.Hash)
	require.Equal(t, m1.Timestamp, m2.Timestamp)

	got, ok := s.GetByHash(m1.Hash)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got.Plaintext)
}

func TestStore_ConversationIDSymmetric(t *testing.T) {
	a := ComputeConversationID("alice", "bob")
	b := ComputeConversationID("bob", "alice")
	require.Equal(t, a, b)
}

func TestStore_ListConversationOrderedAndRanged(t *testing.T) {
	s := New(DefaultRetentionPolicy())
	convo := ComputeConversationID("alice", "bob")

	for i := 0; i < 5; i++ {
		s.Insert("alice", "bob", []byte{byte(i)})
	}

	all := s.ListConversation(convo, Range{})
	require.Len(t, all, 5)
	for i, msg := range all {
		require.Equal(t, []byte{byte(i)}, msg.Plaintext)
	}

	windowed := s.ListConversation(convo, Range{Offset: 2, Limit: 2})
	require.Len(t, windowed, 2)
	require.Equal(t, []byte{2}, windowed[0].Plaintext)
	require.Equal(t, []byte{3}, windowed[1].Plaintext)
}

func TestStore_Recent(t *testing.T) {
	s := New(DefaultRetentionPolicy())
	for i := 0; i < 3; i++ {
		s.Insert("alice", "bob", []byte{byte(i)})
	}
	recent := s.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, []byte{2}, recent[0].Plaintext)
	require.Equal(t, []byte{1}, recent[1].Plaintext)
}

func TestStore_NeverReturnsPartialMessage(t *testing.T) {
	s := New(DefaultRetentionPolicy())
	msg := s.Insert("alice", "bob", []byte("complete message"))
	got, ok := s.GetByHash(msg.Hash)
	require.True(t, ok)
	require.Equal(t, "complete message", string(got.Plaintext))
}

func TestStore_EvictsByAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := New(RetentionPolicy{MaxAge: time.Minute}).WithClock(func() time.Time { return now })

	old := s.Insert("alice", "bob", []byte("old"))
	now = now.Add(2 * time.Minute)
	s.Insert("alice", "bob", []byte("new"))

	_, ok := s.GetByHash(old.Hash)
	require.False(t, ok, "aged-out message should have been evicted")
}

func TestStore_EvictsBySize(t *testing.T) {
	s := New(RetentionPolicy{MaxMessages: 2})

	first := s.Insert("alice", "bob", []byte("1"))
	s.Insert("alice", "bob", []byte("2"))
	s.Insert("alice", "bob", []byte("3"))

	_, ok := s.GetByHash(first.Hash)
	require.False(t, ok, "oldest message should have been evicted once over capacity")

	recent := s.Recent(0)
	require.Len(t, recent, 2)
}

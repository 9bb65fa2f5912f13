package h2tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerStreamCreatedIncrementsOpenCount(t *testing.T) {
	tr := New(nil)
	tr.StreamCreated()
	tr.StreamCreated()
	require.Equal(t, 2, tr.OpenCount())
}

func TestTrackerQuiesceWithOpenStreamsWaits(t *testing.T) {
	closed := 0
	tr := New(func() { closed++ })
	tr.StreamCreated()
	tr.StreamCreated()

	tr.Quiesce()
	require.False(t, tr.Closing())
	require.Equal(t, 0, closed)

	tr.StreamClosed()
	require.False(t, tr.Closing())

	tr.StreamClosed()
	require.True(t, tr.Closing())
	require.Equal(t, 1, closed)
}

func TestTrackerQuiesceWithNoOpenStreamsClosesImmediately(t *testing.T) {
	closed := 0
	tr := New(func() { closed++ })
	tr.Quiesce()
	require.True(t, tr.Closing())
	require.Equal(t, 1, closed)
}

func TestTrackerNoFurtherStreamsAcceptedAfterClosing(t *testing.T) {
	tr := New(nil)
	tr.Quiesce()
	tr.StreamCreated()
	require.Equal(t, 0, tr.OpenCount())
}

func TestTrackerIdleReadClosesOnlyWithOpenStreams(t *testing.T) {
	closed := 0
	tr := New(func() { closed++ })
	tr.IdleRead()
	require.Equal(t, 0, closed)

	tr.StreamCreated()
	tr.IdleRead()
	require.Equal(t, 1, closed)
}

func TestTrackerIdleWriteClosesOnlyWithNoOpenStreams(t *testing.T) {
	closed := 0
	tr := New(func() { closed++ })
	tr.StreamCreated()
	tr.IdleWrite()
	require.Equal(t, 0, closed)

	tr.StreamClosed()
	tr.IdleWrite()
	require.Equal(t, 1, closed)
}

func TestTrackerCloseIsIdempotent(t *testing.T) {
	closed := 0
	tr := New(func() { closed++ })
	tr.Quiesce()
	tr.Quiesce()
	tr.IdleWrite()
	require.Equal(t, 1, closed)
}

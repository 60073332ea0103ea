package broadcast

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4)
	a, unsubA := h.Subscribe()
	b, unsubB := h.Subscribe()
	defer unsubB()
	assert.Equal(t, 2, h.Subscribers())

	h.OnSnapshot(domain.Snapshot{Seq: 1, Phase: domain.PhaseValidating})
	h.OnSnapshot(domain.Snapshot{Seq: 2, Phase: domain.PhaseDecoding})

	for _, ch := range []<-chan domain.Snapshot{a, b} {
		assert.Equal(t, uint64(1), (<-ch).Seq)
		assert.Equal(t, uint64(2), (<-ch).Seq)
	}

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(2)
	ch, unsub := h.Subscribe()
	defer unsub()

	for i := uint64(1); i <= 5; i++ {
		h.OnSnapshot(domain.Snapshot{Seq: i})
	}

	assert.Equal(t, uint64(3), h.Dropped())
	assert.Equal(t, uint64(4), (<-ch).Seq)
	assert.Equal(t, uint64(5), (<-ch).Seq)
}

func TestHub_TerminalSnapshotSurvivesFullBuffer(t *testing.T) {
	h := NewHub(DefaultBuffer)
	ch, unsub := h.Subscribe()
	defer unsub()

	seq := uint64(0)
	for p := 0; p <= 95; p += 5 {
		seq++
		h.OnSnapshot(domain.Snapshot{Seq: seq, Phase: domain.PhaseRemoving, Progress: p})
	}
	for i := 0; i < DefaultBuffer; i++ {
		seq++
		h.OnSnapshot(domain.Snapshot{Seq: seq, Phase: domain.PhaseRemoving, Progress: 95})
	}
	h.OnSnapshot(domain.Snapshot{Seq: 200, Phase: domain.PhaseDone, Progress: 100})
	require.NoError(t, h.Close())

	var got []domain.Snapshot
	for s := range ch {
		got = append(got, s)
	}
	require.Len(t, got, DefaultBuffer)
	last := got[len(got)-1]
	assert.Equal(t, domain.PhaseDone, last.Phase)
	assert.Equal(t, uint64(200), last.Seq)
	assert.Equal(t, 100, last.Progress)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
	assert.Equal(t, seq+1-uint64(DefaultBuffer), h.Dropped())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(0)
	ch, unsub := h.Subscribe()

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, open := <-ch
	assert.False(t, open)
	unsub()

	late, _ := h.Subscribe()
	_, open = <-late
	assert.False(t, open)

	h.OnSnapshot(domain.Snapshot{Seq: 9})
	assert.Zero(t, h.Subscribers())
}

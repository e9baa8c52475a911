package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/arx-os/arxlink/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ frame.SequenceStore    = (*Store)(nil)
	_ frame.MarkStore        = (*Store)(nil)
	_ invite.RedemptionStore = (*Store)(nil)
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenCreatesAndReopens(t *testing.T) {
	s, path := openTemp(t)
	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		again, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, again.Close())
	}
}

func TestReservationNeverLowers(t *testing.T) {
	s, _ := openTemp(t)
	got, err := s.LoadReservation(7)
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, s.SaveReservation(7, 32))
	require.NoError(t, s.SaveReservation(7, 16))
	got, err = s.LoadReservation(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), got)
}

func TestSenderResumesAfterReopen(t *testing.T) {
	s, path := openTemp(t)
	cfg := frame.SenderConfig{ID: 7, Key: []byte("frame-key-seven!"), Store: s, ReserveBlock: 4}
	snd, err := frame.NewSender(cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := snd.Seal(frame.PayloadControl, []byte{1})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	cfg.Store = reopened
	snd, err = frame.NewSender(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), snd.Next(), "restart skips the unused tail of the reserved block")
}

func TestHighWaterCheckpoint(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.SaveHighWater(ctx, []replay.Mark{
		{Sender: 1, HighWater: 10, Forwarded: 9},
		{Sender: 2, HighWater: 4},
	}))
	require.NoError(t, s.SaveHighWater(ctx, []replay.Mark{{Sender: 1, HighWater: 3, Forwarded: 12}}))

	marks, err := s.LoadHighWater(ctx)
	require.NoError(t, err)
	require.Len(t, marks, 2)
	bySender := map[uint16]replay.Mark{}
	for _, m := range marks {
		bySender[m.Sender] = m
	}
	assert.Equal(t, replay.Mark{Sender: 1, HighWater: 10, Forwarded: 12}, bySender[1])
	assert.Equal(t, replay.Mark{Sender: 2, HighWater: 4}, bySender[2])

	tbl := replay.New(0)
	tbl.Load(marks)
	assert.ErrorIs(t, tbl.Commit(1, 10), replay.ErrReplay)
	assert.NoError(t, tbl.Commit(1, 11))
}

func TestSaveMarkSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.SaveHighWater(ctx, []replay.Mark{{Sender: 7, HighWater: 2, Forwarded: 2}}))
	require.NoError(t, s.SaveMark(7, 5))
	require.NoError(t, s.SaveMark(7, 4))
	require.NoError(t, s.SaveMark(9, 1))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	marks, err := reopened.LoadHighWater(ctx)
	require.NoError(t, err)
	bySender := map[uint16]replay.Mark{}
	for _, m := range marks {
		bySender[m.Sender] = m
	}
	assert.Equal(t, replay.Mark{Sender: 7, HighWater: 5, Forwarded: 2}, bySender[7])
	assert.Equal(t, replay.Mark{Sender: 9, HighWater: 1}, bySender[9])
}

type inviteKeys map[uint16][]byte

func (k inviteKeys) InviteKey(issuer uint16) ([]byte, bool) {
	v, ok := k[issuer]
	return v, ok
}

func TestRedemptionsSurviveReopen(t *testing.T) {
	s, path := openTemp(t)
	issuer := invite.IssuerKey{ID: 3, Key: []byte("issuer-three-key")}
	ks := inviteKeys{3: issuer.Key}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tok, err := invite.Issue(invite.RoleTech, 24, issuer, now)
	require.NoError(t, err)

	l := invite.NewLedger(ks, 0)
	l.UseStore(s)
	_, _, err = l.Redeem(tok, now)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	l = invite.NewLedger(ks, 0)
	l.UseStore(reopened)
	_, _, err = l.Redeem(tok, now.Add(time.Hour))
	assert.ErrorIs(t, err, invite.ErrAlreadyRedeemed)
	n, err := reopened.Redemptions(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordRedemptionPrunesExpired(t *testing.T) {
	s, _ := openTemp(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	old := invite.Redemption{Issuer: 1, Serial: 1, IssuedHour: 10}
	fresh, err := s.RecordRedemption(old, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = s.RecordRedemption(old, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, fresh)

	later := now.Add(2 * time.Hour)
	fresh, err = s.RecordRedemption(invite.Redemption{Issuer: 1, Serial: 2, IssuedHour: 11}, later.Add(time.Hour), later)
	require.NoError(t, err)
	assert.True(t, fresh)
	n, err := s.Redemptions(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expired redemption pruned")
}

func TestBoots(t *testing.T) {
	s, _ := openTemp(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	step := 0
	s.now = func() time.Time { step++; return base.Add(time.Duration(step) * time.Minute) }

	first, err := s.RecordBoot(7)
	require.NoError(t, err)
	second, err := s.RecordBoot(7)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	boots, err := s.Boots(5)
	require.NoError(t, err)
	require.Len(t, boots, 2)
	assert.Equal(t, second.ID, boots[0].ID)
	assert.True(t, first.StartedAt.Equal(boots[1].StartedAt))
}

func wall(level uint8, material string) object.ArxObject {
	return object.ArxObject{
		BuildingID:  42,
		ObjectID:    1001,
		Type:        object.TypeWall,
		DetailLevel: level,
		Geometry: object.Plane{Corners: [4]object.Point{
			{X: 0, Y: 0, Z: 0}, {X: 3000, Y: 0, Z: 0}, {X: 3000, Y: 0, Z: 2400}, {X: 0, Y: 0, Z: 2400},
		}},
		Properties: object.Properties{object.NameKey("material"): object.StringValue(material)},
	}
}

func TestObjectSink(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Store(registry.Event{Kind: registry.EventBaseline, Object: wall(0, "drywall")}))
	require.NoError(t, s.Store(registry.Event{Kind: registry.EventDetail, Object: wall(2, "concrete")}))
	// an older state arriving late does not overwrite
	require.NoError(t, s.Store(registry.Event{Kind: registry.EventBaseline, Object: wall(1, "brick")}))

	got, err := s.Object(object.Ref{BuildingID: 42, ObjectID: 1001})
	require.NoError(t, err)
	assert.True(t, wall(2, "concrete").Equal(got))

	_, err = s.Object(object.Ref{BuildingID: 42, ObjectID: 9})
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.Objects(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	none, err := s.Objects(context.Background(), 43)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SaveReservation(1, 16))
	got, err := s.LoadReservation(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), got)
}

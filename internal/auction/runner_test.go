package auction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"artmarket/internal/model"
	"artmarket/internal/notify"
	"artmarket/internal/pricehist"
	"artmarket/internal/stats"
)

type memoryArchive struct {
	mu      sync.Mutex
	records []model.AuctionEventRecord
}

func (a *memoryArchive) PutEventBatch(records []model.AuctionEventRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, records...)
	return nil
}

func (a *memoryArchive) all() []model.AuctionEventRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AuctionEventRecord(nil), a.records...)
}

func TestRunnerBackfill(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	first := "0x00000000000000000000000000000000000000bb"
	second := "0x00000000000000000000000000000000000000cc"

	gateway := &fakeObserverGateway{
		owner:     owner,
		latest:    300,
		timestamp: 1700000000,
	}
	gateway.logs = []types.Log{
		bidPlacedLog(t, 7, first, "1.2", 100, "0x01", 0),
		bidPlacedLog(t, 7, second, "1.35", 150, "0x02", 0),
		auctionEndedLog(t, 7, second, "1.35", 200, "0x03", 0),
	}

	archive := &memoryArchive{}
	noticeStore := notify.NewMemoryStore()
	statsStore := stats.NewMemoryStore()
	priceStore := pricehist.NewMemoryStore()

	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	runner := NewRunner(RunConfig{
		ChainID:           1337,
		FromBlock:         1,
		BatchSize:         100,
		CheckpointPath:    checkpointPath,
		CheckpointEnabled: true,
	}, gateway, RunnerDeps{
		Archive:  archive,
		Notifier: notify.NewNotifier(noticeStore, nil),
		Prices:   pricehist.NewRecorder(priceStore),
		Stats:    statsStore,
	})

	ctx := context.Background()
	require.NoError(t, runner.Run(ctx))

	records := archive.all()
	require.Len(t, records, 3)
	require.Equal(t, "BidPlaced", records[0].EventName)
	require.Equal(t, "1.2", records[0].AmountEther)
	require.Equal(t, uint64(1337), records[0].ChainID)
	require.Equal(t, "AuctionEnded", records[2].EventName)

	// Owner hears about both bids.
	ownerNotices, err := noticeStore.List(ctx, owner.Hex())
	require.NoError(t, err)
	require.Len(t, ownerNotices, 3) // two new bids and the sale

	// The first bidder was outbid by the second.
	outbid, err := noticeStore.List(ctx, common.HexToAddress(first).Hex())
	require.NoError(t, err)
	require.Len(t, outbid, 1)
	require.Equal(t, model.KindOutbid, outbid[0].Kind)
	require.Contains(t, outbid[0].Message, "1.2 ETH")

	// The winner gets the win notice.
	winNotices, err := noticeStore.List(ctx, common.HexToAddress(second).Hex())
	require.NoError(t, err)
	require.Len(t, winNotices, 1)
	require.Equal(t, model.KindAuctionWin, winNotices[0].Kind)

	sellerStats, err := statsStore.Get(ctx, owner.Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(1), sellerStats.NFTsSold)

	buyerStats, err := statsStore.Get(ctx, common.HexToAddress(second).Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(1), buyerStats.NFTsBought)

	history, err := priceStore.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, model.ChangeStarting, history[0].ChangeType)

	// A fresh runner over the same store re-reads the chain but the dedup
	// keys keep every notification single.
	rerun := NewRunner(RunConfig{
		ChainID:   1337,
		FromBlock: 1,
		BatchSize: 100,
	}, gateway, RunnerDeps{
		Notifier: notify.NewNotifier(noticeStore, nil),
	})
	require.NoError(t, rerun.Run(ctx))

	outbidAgain, err := noticeStore.List(ctx, common.HexToAddress(first).Hex())
	require.NoError(t, err)
	require.Len(t, outbidAgain, 1)
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	gateway := &fakeObserverGateway{
		owner:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		latest:    200,
		timestamp: 1700000000,
	}
	gateway.logs = []types.Log{
		bidPlacedLog(t, 7, "0x00000000000000000000000000000000000000bb", "1.2", 100, "0x01", 0),
	}

	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(checkpointPath, true)
	require.NoError(t, store.Save(150))

	archive := &memoryArchive{}
	runner := NewRunner(RunConfig{
		FromBlock:         1,
		BatchSize:         100,
		CheckpointPath:    checkpointPath,
		CheckpointEnabled: true,
	}, gateway, RunnerDeps{Archive: archive})

	require.NoError(t, runner.Run(context.Background()))

	// The bid at block 100 sits below the checkpoint and is skipped.
	require.Empty(t, archive.all())

	cp, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(200), cp.LastProcessedBlock)
}

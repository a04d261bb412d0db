package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethcensor/monitor/internal/coordinator"
	"github.com/ethcensor/monitor/internal/types"
)

type fakeMetrics struct {
	seen, dropped int
	fillRatios    []float64
}

func (f *fakeMetrics) IncPendingTxSeen(node types.NodeID)    { f.seen++ }
func (f *fakeMetrics) IncPendingTxDropped(node types.NodeID) { f.dropped++ }
func (f *fakeMetrics) SetChannelFillRatio(ratio float64)     { f.fillRatios = append(f.fillRatios, ratio) }
func (f *fakeMetrics) ObserveFetchBlockDuration(d time.Duration) {}
func (f *fakeMetrics) ObserveFetchPoolDuration(d time.Duration)  {}
func (f *fakeMetrics) IncBlocksSeen()                            {}

func TestSendLossyAcceptsAtExactlyHalfFree(t *testing.T) {
	events := make(chan coordinator.Event, 4)
	events <- coordinator.NewTransactionEvent{}
	events <- coordinator.NewTransactionEvent{} // channel at 50% full: 2/4, exactly 50% free

	m := &fakeMetrics{}
	sendLossy(events, coordinator.NewTransactionEvent{Hash: common.HexToHash("0x01")}, 0, m)

	require.Equal(t, 1, m.seen)
	require.Equal(t, 0, m.dropped)
	require.Len(t, events, 3, "event must have been enqueued at exactly the 50% free boundary")
}

func TestSendLossyDropsBelowHalfFree(t *testing.T) {
	events := make(chan coordinator.Event, 4)
	events <- coordinator.NewTransactionEvent{}
	events <- coordinator.NewTransactionEvent{}
	events <- coordinator.NewTransactionEvent{} // channel at 75% full: 1/4 free, below threshold

	m := &fakeMetrics{}
	sendLossy(events, coordinator.NewTransactionEvent{Hash: common.HexToHash("0x01")}, 0, m)

	require.Equal(t, 0, m.seen)
	require.Equal(t, 1, m.dropped)
	require.Len(t, events, 3, "event must have been dropped, not enqueued")
}

func TestSendLossyAcceptsBelowThreshold(t *testing.T) {
	events := make(chan coordinator.Event, 4)
	events <- coordinator.NewTransactionEvent{} // 1/4 < 50% threshold

	m := &fakeMetrics{}
	sendLossy(events, coordinator.NewTransactionEvent{Hash: common.HexToHash("0x01")}, 0, m)

	require.Equal(t, 1, m.seen)
	require.Equal(t, 0, m.dropped)
	require.Len(t, events, 2)
}

func TestSendBlockingWaitsForCapacity(t *testing.T) {
	events := make(chan coordinator.Event, 1)
	events <- coordinator.NewHeadEvent{}

	done := make(chan error, 1)
	go func() {
		done <- sendBlocking(context.Background(), events, coordinator.NewHeadEvent{})
	}()

	select {
	case <-done:
		t.Fatal("sendBlocking must not return while the channel is full")
	case <-time.After(20 * time.Millisecond):
	}

	<-events // drain one slot
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sendBlocking should have completed once capacity freed up")
	}
}

func TestSendBlockingRespectsContextCancellation(t *testing.T) {
	events := make(chan coordinator.Event, 1)
	events <- coordinator.NewHeadEvent{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sendBlocking(ctx, events, coordinator.NewHeadEvent{})
	require.ErrorIs(t, err, context.Canceled)
}

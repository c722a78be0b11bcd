package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/periperidip/rtsched/internal/monitor"
	"github.com/periperidip/rtsched/pkg/types"
)

func startBufServer(t *testing.T, provider StatusProvider) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := New(provider, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGetStatusRoundTrip(t *testing.T) {
	m := monitor.New(monitor.WithRunID("run-42"))
	m.Report(types.Event{Kind: types.EventDispatch, Job: "A", Planned: 0, Tick: 1})
	m.Report(types.Event{Kind: types.EventCycleComplete, Cycle: 3})
	m.Report(types.Event{Kind: types.EventRelease, Source: "T1", Task: 1, Count: 2, Planned: 100, Tick: 250, Budget: 100})

	client := startBufServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := client.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, "run-42", st.RunID)
	assert.Equal(t, uint64(3), st.Cycles)
	assert.Equal(t, uint64(1), st.DeadlineMisses)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, types.JobID("A"), st.Jobs[0].Job)
	assert.Equal(t, types.Ticks(1), st.Jobs[0].WorstLateness)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, types.Ticks(150), st.Tasks[0].WorstResponse)
}

func TestHealthy(t *testing.T) {
	client := startBufServer(t, monitor.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := client.Healthy(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetStatusWithoutProvider(t *testing.T) {
	client := startBufServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Status(ctx)
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

package tubes

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/internal/memq"
	"github.com/roadrunner-server/tubes/internal/mocklogger"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type configMock struct {
	v *viper.Viper
}

func newConfigMock(values map[string]any) *configMock {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return &configMock{v: v}
}

func (c *configMock) UnmarshalKey(name string, out any) error {
	return c.v.UnmarshalKey(name, out)
}

func (c *configMock) Has(name string) bool {
	return c.v.IsSet(name)
}

func TestPluginDisabled(t *testing.T) {
	logger, _ := mocklogger.ZapTestLogger(zap.DebugLevel)

	p := &Plugin{}
	err := p.Init(newConfigMock(nil), logger)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Disabled, err))
}

func TestPluginInvalidConfig(t *testing.T) {
	logger, _ := mocklogger.ZapTestLogger(zap.DebugLevel)

	p := &Plugin{}
	err := p.Init(newConfigMock(map[string]any{
		"tubes": map[string]any{"addr": "udp://127.0.0.1:11300"},
	}), logger)
	require.Error(t, err)
}

func TestPluginServe(t *testing.T) {
	srv := memq.NewServer()
	logger, logs := mocklogger.ZapTestLogger(zap.DebugLevel)

	cfg := newConfigMock(map[string]any{
		"tubes": map[string]any{
			"addr":        "tcp://127.0.0.1:11300",
			"parallelism": 2,
			"consume":     []string{"emails", "missing"},
			"tubes": map[string]any{
				"emails": map[string]any{
					"width":             2,
					"reconnect_backoff": "10ms",
				},
			},
		},
	})

	p := &Plugin{dialer: srv}
	require.NoError(t, p.Init(cfg, logger))
	assert.Equal(t, 2, p.cfg.Parallelism)
	assert.Equal(t, 10*time.Millisecond, p.cfg.Tubes["emails"].ReconnectBackoff)

	received := make(chan string, 10)
	p.handlers["emails"] = HandlerFunc(func(_ context.Context, j *ReservedJob) error {
		var e struct {
			To string `json:"to"`
		}
		if err := j.Decode(&e); err != nil {
			return err
		}
		received <- e.To
		return nil
	})
	p.handlers["reports"] = HandlerFunc(func(context.Context, *ReservedJob) error {
		return nil
	})

	assert.Nil(t, p.Watchers())

	errCh := p.Serve()
	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})

	assert.Equal(t, 1, logs.FilterMessage("no handler registered for the consumed tube").Len())
	assert.False(t, p.Worker().Tube("reports").Running())
	assert.True(t, p.Worker().Tube("emails").Running())

	r := p.RPC().(*rpc)

	resp := &SpawnResponse{}
	require.NoError(t, r.Spawn(&SpawnRequest{
		Tube:    "emails",
		Payload: json.RawMessage(`{"to":"john"}`),
		Options: Options{"priority": 10},
	}, resp))
	require.NotZero(t, resp.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Worker().Done(ctx, "emails", resp.ID, nil))
	assert.Equal(t, "john", <-received)

	status := &StatusResponse{}
	require.NoError(t, r.Status(&JobRequest{Tube: "emails", ID: resp.ID}, status))
	assert.Equal(t, StatusSuccess, status.Status)

	working := &WorkingResponse{}
	require.NoError(t, r.Working(&Empty{}, working))
	// two emails watchers and one idle reports watcher
	assert.Len(t, working.Watchers, 3)

	batch := &SpawnBatchResponse{}
	require.NoError(t, r.SpawnBatch(&SpawnBatchRequest{Jobs: []*SpawnRequest{
		{Tube: "emails", Payload: json.RawMessage(`{"to":"a"}`)},
		{Tube: "emails", Payload: json.RawMessage(`{"to":"b"}`)},
		{Tube: "emails", Payload: json.RawMessage(`{"to":"c"}`)},
	}}, batch))
	require.Len(t, batch.IDs, 3)
	assert.NotEqual(t, batch.IDs[0], batch.IDs[1])
	assert.NotEqual(t, batch.IDs[1], batch.IDs[2])

	for _, id := range batch.IDs {
		require.NoError(t, p.Worker().Done(ctx, "emails", id, nil))
	}

	assert.Len(t, p.Watchers(), 3)
	assert.Len(t, p.MetricsCollector(), 1)

	// a job without payload is rejected
	require.Error(t, r.Spawn(&SpawnRequest{Tube: "emails"}, &SpawnResponse{}))
}

func TestRPCBeforeServe(t *testing.T) {
	r := (&Plugin{}).RPC().(*rpc)
	require.Error(t, r.Spawn(&SpawnRequest{Tube: "emails", Payload: json.RawMessage(`{}`)}, &SpawnResponse{}))
}

package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/clock"
	"github.com/adquify/catalog-harvester/internal/worker"
)

type fakeHash struct {
	mu      sync.Mutex
	fields  map[string]map[string][]byte
	expires map[string]time.Duration
	fail    bool
}

func newFakeHash() *fakeHash {
	return &fakeHash{fields: map[string]map[string][]byte{}, expires: map[string]time.Duration{}}
}

func (f *fakeHash) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(context.Background())
	if f.fail {
		cmd.SetErr(errors.New("redis down"))
		return cmd
	}
	if f.fields[key] == nil {
		f.fields[key] = map[string][]byte{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.fields[key][values[i].(string)] = values[i+1].([]byte)
	}
	cmd.SetVal(int64(len(values) / 2))
	return cmd
}

func (f *fakeHash) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(1700000000, 0).UTC())
	hash := newFakeHash()
	mirror := newRedisMirror(hash, "test", time.Hour)
	tr := NewTracker("run-1", clk, mirror, zap.NewNop())

	ok := worker.Job{ID: "j1", Source: catalog.SourceKave, Target: "sillas"}
	bad := worker.Job{ID: "j2", Source: catalog.SourceSklum, Target: "https://www.sklum.com/es/633-comprar-sofas"}
	left := worker.Job{ID: "j3", Source: catalog.SourceKave, Target: "mesas"}
	tr.Queued([]worker.Job{ok, bad, left})

	tr.JobStarted(ok, 1)
	tr.JobFinished(worker.JobOutcome{Job: ok, Attempts: 1, Listings: 4, Skipped: 1})

	tr.JobStarted(bad, 1)
	tr.JobRetrying(bad, 1, errors.New("timeout"))
	clk.Advance(time.Second)
	tr.JobFinished(worker.JobOutcome{Job: bad, Attempts: 3, Err: errors.New("status 503")})
	tr.JobStarted(bad, 4)

	tr.JobFinished(worker.JobOutcome{Job: left, Abandoned: true})

	states := tr.Snapshot()
	require.Len(t, states, 3)
	assert.Equal(t, StatusSucceeded, states[0].Status)
	assert.Equal(t, 4, states[0].Listings)
	assert.Equal(t, StatusFailed, states[1].Status, "terminal states are sticky")
	assert.Equal(t, 3, states[1].Attempts)
	assert.Equal(t, "status 503", states[1].LastError)
	assert.Equal(t, StatusAbandoned, states[2].Status)

	assert.Equal(t, map[Status]int{StatusSucceeded: 1, StatusFailed: 1, StatusAbandoned: 1}, tr.Counts())

	key := mirror.Key("run-1")
	assert.Equal(t, "test:run:run-1:jobs", key)
	assert.Equal(t, time.Hour, hash.expires[key])
	var mirrored JobState
	require.NoError(t, json.Unmarshal(hash.fields[key]["j2"], &mirrored))
	assert.Equal(t, StatusFailed, mirrored.Status)
	assert.Equal(t, clk.Now(), mirrored.UpdatedAt)
}

func TestTrackerSurvivesMirrorFailure(t *testing.T) {
	t.Parallel()

	hash := newFakeHash()
	hash.fail = true
	tr := NewTracker("run-2", clock.New(), newRedisMirror(hash, "", 0), zap.NewNop())
	job := worker.Job{ID: "j1", Source: catalog.SourceSheet, Target: "tarifa.csv"}

	tr.JobStarted(job, 1)
	states := tr.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, StatusRunning, states[0].Status)
}

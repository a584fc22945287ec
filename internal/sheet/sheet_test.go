package sheet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	titles []string

	addCalls    []string
	updateRngs  []string
	updateVals  [][][]interface{}
	titlesCalls int

	updateErr error
}

func (f *fakeAPI) SheetTitles(ctx context.Context) ([]string, error) {
	f.titlesCalls++
	return f.titles, nil
}

func (f *fakeAPI) AddSheet(ctx context.Context, title string, cols int64) error {
	f.addCalls = append(f.addCalls, title)
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeAPI) Update(ctx context.Context, rng string, values [][]interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateRngs = append(f.updateRngs, rng)
	f.updateVals = append(f.updateVals, values)
	return nil
}

var header = []string{"timestamp", "server", "user", "gpu_id", "mem_used_gb", "total_gb", "util%"}

func TestPublishCreatesMissingTabWithHeader(t *testing.T) {
	api := &fakeAPI{titles: []string{"Sheet1"}}
	c := newClient(api, "GPU_USERS", header, 2)

	rows := [][]interface{}{{"ts", "node-1", "alice", 0, 1.0, 24.0, 10}}
	require.NoError(t, c.Publish(context.Background(), rows))

	require.Equal(t, []string{"GPU_USERS"}, api.addCalls)
	require.Len(t, api.updateRngs, 2)
	assert.Equal(t, "GPU_USERS!A1:G1", api.updateRngs[0])
	assert.Equal(t, "timestamp", api.updateVals[0][0][0])
	assert.Equal(t, "GPU_USERS!A2:G2", api.updateRngs[1])
}

func TestPublishDoesNotReheadExistingTab(t *testing.T) {
	api := &fakeAPI{titles: []string{"Sheet1", "GPU_USERS"}}
	c := newClient(api, "GPU_USERS", header, 2)

	rows := [][]interface{}{{"ts", "node-1", "alice", 0, 1.0, 24.0, 10}}
	require.NoError(t, c.Publish(context.Background(), rows))

	assert.Empty(t, api.addCalls)
	require.Len(t, api.updateRngs, 1)
	assert.Equal(t, "GPU_USERS!A2:G2", api.updateRngs[0])
}

func TestPublishChecksTabOnlyOnce(t *testing.T) {
	api := &fakeAPI{titles: []string{"GPU_USERS"}}
	c := newClient(api, "GPU_USERS", header, 2)

	rows := [][]interface{}{{"ts", "node-1", "alice", 0, 1.0, 24.0, 10}}
	require.NoError(t, c.Publish(context.Background(), rows))
	require.NoError(t, c.Publish(context.Background(), rows))

	assert.Equal(t, 1, api.titlesCalls)
}

func TestPublishRangeCoversAllRows(t *testing.T) {
	api := &fakeAPI{titles: []string{"GPU_PROCS"}}
	nineWide := []string{"timestamp", "server", "pid", "cmd", "user", "gpu_id", "mem_used_gb", "total_gb", "util%"}
	c := newClient(api, "GPU_PROCS", nineWide, 5)

	rows := [][]interface{}{
		{"ts", "n", 1, "c", "u", 0, 1.0, 24.0, 10},
		{"ts", "n", 2, "c", "u", 0, 1.0, 24.0, 10},
		{"ts", "n", 3, "c", "u", 1, 1.0, 24.0, 10},
	}
	require.NoError(t, c.Publish(context.Background(), rows))

	require.Len(t, api.updateRngs, 1)
	assert.Equal(t, "GPU_PROCS!A5:I7", api.updateRngs[0])
}

func TestPublishEmptyWritesNothing(t *testing.T) {
	api := &fakeAPI{titles: []string{"GPU_USERS"}}
	c := newClient(api, "GPU_USERS", header, 2)

	require.NoError(t, c.Publish(context.Background(), nil))
	assert.Empty(t, api.updateRngs)
}

func TestPublishSurfacesUpdateError(t *testing.T) {
	api := &fakeAPI{titles: []string{"GPU_USERS"}, updateErr: errors.New("quota exceeded")}
	c := newClient(api, "GPU_USERS", header, 2)

	err := c.Publish(context.Background(), [][]interface{}{{"ts"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "G", columnLetter(7))
	assert.Equal(t, "I", columnLetter(9))
}

package it

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynakv/internal/node"
	"dynakv/internal/record"
)

func startCluster(t *testing.T, opts Options) *Cluster {
	t.Helper()
	c, err := NewCluster(opts)
	require.NoError(t, err, "Failed to start cluster")
	t.Cleanup(c.Stop)
	return c
}

func TestSmoke_PutGetDelete_SingleNode(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1"}})

	resp, err := c.Put("n1", "test-key", "test-value", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)

	resp, err = c.Get("n1", "test-key", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "test-value", string(resp.Body))

	c.Clock.Advance(time.Millisecond)
	resp, err = c.Delete("n1", "test-key", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)

	resp, err = c.Get("n1", "test-key", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestQuorum_ToleratesOneUnresponsiveReplica(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	c := startCluster(t, Options{
		IDs:           []string{"n1", "n2", "n3"},
		Unresponsive:  []string{"n3"},
		RemoteTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	resp, err := c.Put("n1", "k", "v", "2/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	// every replica is awaited, so the slow one costs one timeout
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	resp, err = c.Get("n2", "k", "2/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "v", string(resp.Body))
}

func TestRange_StreamsChunkPerRecord(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1"}})
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		resp, err := c.Put("n1", kv[0], kv[1], "")
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.Status)
	}

	body, err := c.RawRange("n1", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, "3\r\na\n1\r\n3\r\nb\n2\r\n0\r\n\r\n", body)

	body, err = c.RawRange("n1", "z", "")
	require.NoError(t, err)
	assert.Equal(t, "0\r\n\r\n", body)
}

func TestRange_SkipsDeletedKeys(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1"}})
	for _, k := range []string{"a", "b", "c"} {
		_, err := c.Put("n1", k, strings.ToUpper(k), "")
		require.NoError(t, err)
	}
	c.Clock.Advance(time.Millisecond)
	resp, err := c.Delete("n1", "b", "")
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.Status)

	resp, err = c.Do(http.MethodGet, "n1", "/v0/entities", url.Values{"start": {"a"}}, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "a\nAc\nC", string(resp.Body))
}

func TestQuorum_NotMetFailsEveryOperation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	c := startCluster(t, Options{IDs: []string{"n1", "n2", "n3"}})
	require.NoError(t, c.KillNode("n3"))

	resp, err := c.Put("n1", "k", "v", "3/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.Status)

	resp, err = c.Get("n1", "k", "3/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.Status)

	// the failed write is not rolled back, and the live majority still
	// serves the default policy
	resp, err = c.Get("n2", "k", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "v", string(resp.Body))

	resp, err = c.Delete("n2", "k", "3/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.Status)
}

func TestReplication_VisibleFromEveryCoordinator(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1", "n2", "n3"}})

	resp, err := c.Put("n1", "shared", "value", "3/3")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	for _, id := range []string{"n1", "n2", "n3"} {
		resp, err := c.Get(id, "shared", "1/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status, "coordinator %s", id)
		assert.Equal(t, "value", string(resp.Body))

		rec, err := c.Member(id).Node().Store().Get([]byte("shared"))
		require.NoError(t, err)
		assert.True(t, record.NewValue([]byte("value"), 1000).Equal(rec), "replica %s holds %s", id, rec)
	}
}

func TestConflicts_NewestTimestampWins(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1", "n2", "n3"}})

	resp, err := c.Put("n1", "k", "fresh", "3/3")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	// overwrite one replica directly with an older version
	stale, err := http.NewRequest(http.MethodPut, c.Member("n2").URL+"/v0/entity?id=k", strings.NewReader("stale"))
	require.NoError(t, err)
	stale.Header.Set(node.ProxyHeader, "true")
	stale.Header.Set(node.TimestampHeader, "10")
	r, err := c.Client.Do(stale)
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusCreated, r.StatusCode)

	resp, err = c.Get("n3", "k", "3/3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "fresh", string(resp.Body))
}

func TestConflicts_TombstoneHidesOlderValue(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1", "n2", "n3"}})

	resp, err := c.Put("n1", "k", "v", "3/3")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	c.Clock.Advance(5 * time.Millisecond)
	resp, err = c.Delete("n2", "k", "2/3")
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.Status)

	resp, err = c.Get("n3", "k", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	rec, err := record.Decode(resp.Body)
	require.NoError(t, err)
	assert.True(t, rec.IsDeleted())
	assert.Equal(t, int64(1005), rec.Timestamp())
}

func TestProxiedRequest_IsNotForwarded(t *testing.T) {
	c := startCluster(t, Options{IDs: []string{"n1", "n2", "n3"}})

	req, err := http.NewRequest(http.MethodPut, c.Member("n1").URL+"/v0/entity?id=local", strings.NewReader("only-here"))
	require.NoError(t, err)
	req.Header.Set(node.ProxyHeader, "true")
	r, err := c.Client.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusCreated, r.StatusCode)

	for _, id := range []string{"n2", "n3"} {
		rec, err := c.Member(id).Node().Store().Get([]byte("local"))
		require.NoError(t, err)
		assert.True(t, rec.IsMissing(), "replica %s", id)
	}
}

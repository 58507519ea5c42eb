package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbor/internal/api"
	"arbor/internal/config"
	"arbor/internal/errors"
	"arbor/internal/workspace"
	"arbor/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Client {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha\n\nbeta\n"), 0644))
	ws, err := workspace.Init(root, config.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	mux := http.NewServeMux()
	api.NewHandler(ws, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	c := setup(t)

	require.NoError(t, c.Health(ctx))

	node, err := c.Tree(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, node.Children, 1)
	assert.Len(t, node.Children[0].Children, 2)

	_, err = c.Status(ctx)
	assert.True(t, errors.IsNotFound(err))

	cp, err := c.Checkpoint(ctx, "base")
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)

	text := "alpha\n\ngamma\n"
	wc, err := c.OpenWorkingCopy(ctx, "a.txt", &text)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", wc.Path)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Changes, 1)

	diffs, err := c.Diff(ctx, "")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, 1, diffs[0].Additions)

	res, err := c.UpdateWorkingCopy(ctx, "a.txt", "alpha\n\nbeta\n")
	require.NoError(t, err)
	assert.NotNil(t, res.Delta)

	list, err := c.WorkingCopies(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.CloseWorkingCopy(ctx, "a.txt"))
	err = c.CloseWorkingCopy(ctx, "a.txt")
	assert.True(t, errors.IsValidation(err))

	stats, err := c.Cache(ctx)
	require.NoError(t, err)
	assert.Equal(t, "elements", stats.Name)
}

func TestClient_Events(t *testing.T) {
	c := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan types.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Events(ctx, func(ev types.Event) bool {
			got <- ev
			return ev.Type == api.SubscribedEvent
		})
	}()

	select {
	case ev := <-got:
		assert.Equal(t, api.SubscribedEvent, ev.Type)
	case <-ctx.Done():
		t.Fatal("no subscription")
	}

	_, err := c.OpenWorkingCopy(ctx, "a.txt", nil)
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, "post_change", ev.Type)
	case <-ctx.Done():
		t.Fatal("no event")
	}
	assert.NoError(t, <-done)
}

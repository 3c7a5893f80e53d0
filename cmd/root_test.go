package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
)

type fakeApp struct {
	runErr   error
	onceErr  error
	ran      bool
	closed   bool
	snapshot *contest.Snapshot
	meta     contest.Meta
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.runErr
}

func (f *fakeApp) RunOnce(context.Context) (*contest.Snapshot, contest.Meta, error) {
	return f.snapshot, f.meta, f.onceErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, path string) (App, error) {
		gotPath = path
		return app, nil
	}
	t.Cleanup(func() {
		newApp = orig
		cfgFile = ""
	})
	return &gotPath
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRefreshPrintsSnapshot(t *testing.T) {
	built := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := contest.NewRecord("Robots", built.Add(48*time.Hour), "https://example.com/robots", "", "3", built, time.UTC)
	require.NoError(t, err)
	snap, err := contest.NewSnapshot("b-1", built, []contest.Record{rec})
	require.NoError(t, err)

	app := &fakeApp{snapshot: snap, meta: contest.NewMeta(snap, time.Hour)}
	path := withFakeApp(t, app)

	out, err := execute("refresh", "--config", "contestboard.yaml")
	require.NoError(t, err)
	assert.Equal(t, "contestboard.yaml", *path)
	assert.True(t, app.closed)

	var got refreshOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "b-1", got.BuildID)
	assert.Equal(t, 1, got.ContestCount)
	require.Len(t, got.Contests, 1)
	assert.Equal(t, "Robots", got.Contests[0].Name)
}

func TestRefreshReturnsBuildError(t *testing.T) {
	app := &fakeApp{onceErr: errors.New("fetch listing: status 500")}
	withFakeApp(t, app)

	_, err := execute("refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestServeTreatsCancelAsCleanExit(t *testing.T) {
	app := &fakeApp{runErr: context.Canceled}
	withFakeApp(t, app)

	_, err := execute("serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestAppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) {
		return nil, errors.New("bad config")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
}

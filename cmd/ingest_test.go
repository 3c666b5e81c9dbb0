package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/server"
)

type fakeApp struct {
	jobs   []ingest.Job
	result ingest.ProcessingResult
	err    error
	closed bool
	ran    string
}

func (f *fakeApp) Run(context.Context) error       { f.ran = "serve"; return nil }
func (f *fakeApp) RunWorker(context.Context) error { f.ran = "worker"; return nil }
func (f *fakeApp) Close(context.Context) error     { f.closed = true; return nil }
func (f *fakeApp) Logger() *zap.Logger             { return zap.NewNop() }

func (f *fakeApp) Ingest(_ context.Context, job ingest.Job) (ingest.ProcessingResult, error) {
	f.jobs = append(f.jobs, job)
	return f.result, f.err
}

func loaderFor(app *fakeApp, seen *server.Options) appLoader {
	return func(_ *cobra.Command, opts server.Options) (App, error) {
		if seen != nil {
			*seen = opts
		}
		return app, nil
	}
}

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestCommandPrintsResult(t *testing.T) {
	t.Parallel()

	app := &fakeApp{result: ingest.ProcessingResult{Status: ingest.ResultStatusSuccess, Query: "bitcoin", Stored: 7}}
	var opts server.Options
	out, err := runCmd(t, newIngestCmd(loaderFor(app, &opts)), "-q", "bitcoin", "-n", "20", "--at", "2026-02-06T14:00:00Z")
	require.NoError(t, err)
	require.Contains(t, out, `"stored": 7`)
	require.True(t, app.closed)

	require.Len(t, app.jobs, 1)
	require.Equal(t, "bitcoin", app.jobs[0].Query)
	require.Equal(t, 20, app.jobs[0].Limit)
	require.Equal(t, "cli", app.jobs[0].Source)

	require.NotNil(t, opts.Clock)
	require.True(t, opts.Clock.Now().Equal(time.Date(2026, 2, 6, 14, 0, 0, 0, time.UTC)))
}

func TestIngestCommandErrors(t *testing.T) {
	t.Parallel()

	_, err := runCmd(t, newIngestCmd(loaderFor(&fakeApp{}, nil)))
	require.Error(t, err, "query flag is required")

	_, err = runCmd(t, newIngestCmd(loaderFor(&fakeApp{}, nil)), "-q", "ai", "--at", "yesterday")
	require.ErrorContains(t, err, "parse --at")

	app := &fakeApp{err: ingest.ErrUpstreamFetch}
	_, err = runCmd(t, newIngestCmd(loaderFor(app, nil)), "-q", "ai")
	require.ErrorIs(t, err, ingest.ErrUpstreamFetch)
	require.True(t, app.closed)

	failing := func(*cobra.Command, server.Options) (App, error) { return nil, errors.New("no config") }
	_, err = runCmd(t, newIngestCmd(failing), "-q", "ai")
	require.ErrorContains(t, err, "no config")
}

func TestServeAndWorkerCommands(t *testing.T) {
	t.Parallel()

	app := &fakeApp{}
	_, err := runCmd(t, newServeCmd(loaderFor(app, nil)))
	require.NoError(t, err)
	require.Equal(t, "serve", app.ran)

	_, err = runCmd(t, newWorkerCmd(loaderFor(app, nil)))
	require.NoError(t, err)
	require.Equal(t, "worker", app.ran)
}

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["worker"])
	require.True(t, names["ingest"])
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

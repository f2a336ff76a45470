package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"takeforge/pkg/db"
	"takeforge/pkg/model"
	"takeforge/pkg/production"
	"takeforge/pkg/store"
	"takeforge/pkg/tts"
)

const testScript = `[META]
title: Launch Video
project: acme
default_character: narrator

[BEAT: 01_hook]
name: The Hook
---
[DIRECTION: warm]
Meet the product. [PAUSE: short]
[END_BEAT]

[BEAT: 02_proof]
---
[CHARACTER: customer]
I was skeptical.
[END_BEAT]
`

// stubProducer fakes the orchestrator for handler tests.
type stubProducer struct {
	report     *production.RunReport
	take       *model.Take
	err        error
	lastOpts   *production.RegenerateOptions
	lastBeatID string
}

func (s *stubProducer) GenerateSession(_ context.Context, sessionID string) (*production.RunReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.report != nil {
		return s.report, nil
	}
	return &production.RunReport{SessionID: sessionID}, nil
}

func (s *stubProducer) RegenerateBeat(_ context.Context, sessionID, beatID string, opts *production.RegenerateOptions) (*model.Take, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastBeatID = beatID
	s.lastOpts = opts
	if s.take != nil {
		return s.take, nil
	}
	return &model.Take{ID: "take-new", SessionID: sessionID, BeatID: beatID}, nil
}

// stubExporter fakes the export assembler.
type stubExporter struct {
	files    []string
	err      error
	lastOpts production.ExportOptions
}

func (s *stubExporter) Export(_ context.Context, sessionID string, opts production.ExportOptions) ([]string, error) {
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.files, nil
}

// stubProvider serves the voice catalog endpoint.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Synthesize(context.Context, tts.Request) (tts.Result, error) {
	return tts.Result{}, fmt.Errorf("not implemented")
}

func (stubProvider) Voices(context.Context) ([]tts.Voice, error) {
	return []tts.Voice{{ID: "v1", Name: "Stub Voice"}}, nil
}

type testEnv struct {
	store    *store.SQLiteStore
	producer *stubProducer
	exporter *stubExporter
	server   *httptest.Server
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()

	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	st := store.NewSQLiteStore(d)
	producer := &stubProducer{}
	exporter := &stubExporter{}

	srv := NewServer("localhost:0",
		NewScriptHandler(),
		NewSessionHandler(st, producer, exporter),
		NewProfileHandler(st, stubProvider{}),
		func() {},
	)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{store: st, producer: producer, exporter: exporter, server: ts}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(e.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) put(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPut, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/deepresearch/research"
)

type stubRunIndex struct {
	snaps []research.RunSnapshot
}

func (s *stubRunIndex) List() ([]research.RunSnapshot, error) { return s.snaps, nil }

func (s *stubRunIndex) Load(runID string) (*research.RunSnapshot, error) {
	for i := range s.snaps {
		if s.snaps[i].RunID == runID {
			return &s.snaps[i], nil
		}
	}
	return nil, fmt.Errorf("run %s not found", runID)
}

func indexWithOneRun() *stubRunIndex {
	state := research.NewState("research Ada Lovelace")
	state.CleanTopic = "Ada Lovelace"
	return &stubRunIndex{snaps: []research.RunSnapshot{{
		RunID:     "run-1",
		Phase:     research.PhaseWrite,
		State:     state,
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}}
}

func TestHandleRunsListsSnapshots(t *testing.T) {
	api := &APIServer{Runs: indexWithOneRun()}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	api.handleRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "run-1", summaries[0].RunID)
	assert.Equal(t, "Ada Lovelace", summaries[0].Topic)
	assert.Equal(t, "write", summaries[0].Phase)
}

func TestHandleResearchRejectsBadRequests(t *testing.T) {
	api := &APIServer{}

	req := httptest.NewRequest(http.MethodGet, "/api/research", nil)
	rec := httptest.NewRecorder()
	api.handleResearch(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	body, _ := json.Marshal(ResearchRequest{})
	req = httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	api.handleResearch(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarizeCarriesPartialState(t *testing.T) {
	state := research.NewState("research Ada Lovelace")
	state.CleanTopic = "Ada Lovelace"
	state.DocumentPath = "/out/ada.md"
	state.CurrentPhase = research.PhaseFinalize

	resp := summarize(state, errors.New("research incomplete: gather phase: no relevant results"))
	assert.Equal(t, "Ada Lovelace", resp.Topic)
	assert.Equal(t, "/out/ada.md", resp.DocumentPath)
	assert.Contains(t, resp.Error, "gather phase")

	resp = summarize(nil, errors.New("load run x: not found"))
	assert.Empty(t, resp.DocumentPath)
	assert.NotEmpty(t, resp.Error)
}

func rpcRequest(t *testing.T, method string, params interface{}) *jsonrpc2.Request {
	t.Helper()
	req := &jsonrpc2.Request{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		msg := json.RawMessage(raw)
		req.Params = &msg
	}
	return req
}

func TestRPCListAndStatus(t *testing.T) {
	s := &RPCServer{Runs: indexWithOneRun()}
	ctx := context.Background()

	result, err := s.handle(ctx, nil, rpcRequest(t, "research/list", nil))
	require.NoError(t, err)
	summaries, ok := result.([]RunSummary)
	require.True(t, ok)
	require.Len(t, summaries, 1)
	assert.Equal(t, "run-1", summaries[0].RunID)

	result, err = s.handle(ctx, nil, rpcRequest(t, "research/status", RunParams{RunID: "run-1"}))
	require.NoError(t, err)
	summary, ok := result.(RunSummary)
	require.True(t, ok)
	assert.False(t, summary.Completed)

	_, err = s.handle(ctx, nil, rpcRequest(t, "research/status", RunParams{RunID: "nope"}))
	require.Error(t, err)
}

func TestRPCRejectsUnknownMethodAndBadParams(t *testing.T) {
	s := &RPCServer{}
	ctx := context.Background()

	_, err := s.handle(ctx, nil, rpcRequest(t, "research/teleport", nil))
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)

	_, err = s.handle(ctx, nil, rpcRequest(t, "research/run", RunParams{}))
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	_, err = s.handle(ctx, nil, rpcRequest(t, "research/run", nil))
	require.Error(t, err)
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package solve

import (
	"context"
	"fmt"
	"io"
	"testing"

	control "github.com/moby/buildkit/api/services/control"
	"github.com/buildkit-session/core/pkg/buildconfig"
	"github.com/buildkit-session/core/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeStatusStream struct {
	grpc.ClientStream
	responses []*control.StatusResponse
	i         int
}

func (f *fakeStatusStream) Recv() (*control.StatusResponse, error) {
	if f.i >= len(f.responses) {
		return nil, io.EOF
	}
	r := f.responses[f.i]
	f.i++
	return r, nil
}

type fakeControlClient struct {
	lastSolveReq *control.SolveRequest
	solveResp    *control.SolveResponse
	solveErr     error
	statuses     []*control.StatusResponse
}

func (f *fakeControlClient) Session(context.Context, ...grpc.CallOption) (control.Control_SessionClient, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (f *fakeControlClient) Solve(ctx context.Context, req *control.SolveRequest, opts ...grpc.CallOption) (*control.SolveResponse, error) {
	f.lastSolveReq = req
	if f.solveErr != nil {
		return nil, f.solveErr
	}
	return f.solveResp, nil
}
func (f *fakeControlClient) Status(ctx context.Context, req *control.StatusRequest, opts ...grpc.CallOption) (control.Control_StatusClient, error) {
	return &fakeStatusStream{responses: f.statuses}, nil
}
func (f *fakeControlClient) DiskUsage(context.Context, *control.DiskUsageRequest, ...grpc.CallOption) (*control.DiskUsageResponse, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (f *fakeControlClient) Prune(context.Context, *control.PruneRequest, ...grpc.CallOption) (control.Control_PruneClient, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (f *fakeControlClient) ListWorkers(context.Context, *control.ListWorkersRequest, ...grpc.CallOption) (*control.ListWorkersResponse, error) {
	return nil, fmt.Errorf("unimplemented")
}

type recordingHandler struct {
	started   bool
	statuses  []*control.StatusResponse
	completed bool
	errMsg    string
}

func (h *recordingHandler) OnStart()                           { h.started = true }
func (h *recordingHandler) OnStatus(s *control.StatusResponse) { h.statuses = append(h.statuses, s) }
func (h *recordingHandler) OnError(msg string)                 { h.errMsg = msg }
func (h *recordingHandler) OnComplete()                        { h.completed = true }

func Test_Solve_BuildsExpectedRequestAndDrainsStatus(t *testing.T) {
	t.Parallel()
	client := &fakeControlClient{
		solveResp: &control.SolveResponse{ExporterResponse: map[string]string{"containerimage.digest": "sha256:abc"}},
		statuses:  []*control.StatusResponse{{}, {}},
	}
	cfg := &buildconfig.Config{
		ContextPath: t.TempDir(),
		Dockerfile:  "Dockerfile.custom",
		Tags:        []string{"myregistry.example.com/app:latest"},
		BuildArgs:   map[string]string{"FOO": "bar"},
		Platforms:   []string{"linux/amd64"},
	}
	h := &recordingHandler{}

	res, err := Solve(context.Background(), client, session.New(), cfg, h)
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", res.Digest)
	assert.True(t, h.started)
	assert.True(t, h.completed)
	assert.Len(t, h.statuses, 2)

	req := client.lastSolveReq
	require.NotNil(t, req)
	assert.Equal(t, "Dockerfile.custom", req.FrontendAttrs["filename"])
	assert.Equal(t, "bar", req.FrontendAttrs["build-arg:FOO"])
	assert.Equal(t, "linux/amd64", req.FrontendAttrs["platform"])
	assert.Equal(t, "image", req.Exporter)
	assert.Equal(t, "myregistry.example.com/app:latest", req.ExporterAttrs["name"])
	assert.Equal(t, "true", req.ExporterAttrs["push"])
	assert.NotContains(t, req.ExporterAttrs, "registry.insecure")
}

func Test_Solve_InsecureRegistryHeuristic(t *testing.T) {
	t.Parallel()
	client := &fakeControlClient{solveResp: &control.SolveResponse{ExporterResponse: map[string]string{}}}
	cfg := &buildconfig.Config{
		ContextPath: t.TempDir(),
		Tags:        []string{"localhost:5000/app:latest"},
	}
	_, err := Solve(context.Background(), client, session.New(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", client.lastSolveReq.ExporterAttrs["registry.insecure"])
}

func Test_Solve_BareTagResolvesToDockerHubNotInsecure(t *testing.T) {
	t.Parallel()
	client := &fakeControlClient{solveResp: &control.SolveResponse{ExporterResponse: map[string]string{}}}
	cfg := &buildconfig.Config{
		ContextPath: t.TempDir(),
		Tags:        []string{"myapp:latest"},
	}
	_, err := Solve(context.Background(), client, session.New(), cfg, nil)
	require.NoError(t, err)
	assert.NotContains(t, client.lastSolveReq.ExporterAttrs, "registry.insecure")
}

func Test_Solve_PropagatesErrorToHandler(t *testing.T) {
	t.Parallel()
	client := &fakeControlClient{solveErr: fmt.Errorf("boom")}
	cfg := &buildconfig.Config{ContextPath: t.TempDir()}
	h := &recordingHandler{}

	_, err := Solve(context.Background(), client, session.New(), cfg, h)
	require.Error(t, err)
	assert.Contains(t, h.errMsg, "boom")
}

func Test_Solve_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	client := &fakeControlClient{}
	cfg := &buildconfig.Config{}
	_, err := Solve(context.Background(), client, session.New(), cfg, nil)
	require.Error(t, err)
}

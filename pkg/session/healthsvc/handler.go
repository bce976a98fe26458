// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package healthsvc answers the daemon's liveness probe of the tunnel
// itself: if the reverse HTTP/2 connection can carry a Check call at all,
// the session side is alive.
package healthsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Handler always reports SERVING: reachability over the tunnel is itself
// the health signal, there is nothing further to probe.
type Handler struct{}

// NewHandler returns a Health handler.
func NewHandler() *Handler { return &Handler{} }

// Register exposes the handler as the tunnel's Health service.
func (h *Handler) Register(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h)
}

func (h *Handler) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (h *Handler) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING})
}

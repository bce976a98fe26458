// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package tunnel

import (
	"context"

	"google.golang.org/grpc"
)

// Server runs a *grpc.Server over a single Adapter connection, giving the
// daemon a full HTTP/2 + gRPC server tunneled inside the outer session
// stream. Services are registered the same way they would be on any
// grpc.Server; unknown :path values are answered UNIMPLEMENTED by grpc-go
// itself, satisfying the dispatch table in spec.md §4.3 without any custom
// routing code here.
type Server struct {
	grpcServer *grpc.Server
	adapter    *Adapter
}

// ServiceRegistrar is implemented by service handlers (FileSync, Auth,
// Secrets, Health, ...) that register themselves on the server returned by
// GRPCServer before Serve is called.
type ServiceRegistrar interface {
	Register(*grpc.Server)
}

// NewServer builds a tunnel server over the given Adapter. opts are passed
// through to grpc.NewServer (e.g. grpc.MaxRecvMsgSize).
func NewServer(adapter *Adapter, opts ...grpc.ServerOption) *Server {
	return &Server{
		grpcServer: grpc.NewServer(opts...),
		adapter:    adapter,
	}
}

// GRPCServer returns the underlying *grpc.Server for service registration.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// Serve runs the HTTP/2 accept loop until ctx is done or the server is
// stopped; closing the adapter ends the connection but does not by itself
// make Serve return. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	lis := newSingleConnListener(s.adapter)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		s.grpcServer.Stop()
		lis.Close()
	}()
	err := s.grpcServer.Serve(lis)
	close(done)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}

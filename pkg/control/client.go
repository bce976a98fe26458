// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package control dials the BuildKit control socket and hands back the
// generated ControlClient, the one piece of the daemon-facing surface this
// library needs to drive Session, Solve and Status.
package control

import (
	"context"
	"io"
	"net"
	"strings"

	control "github.com/moby/buildkit/api/services/control"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Dial connects to a BuildKit daemon at addr. A bare path (no scheme) is
// treated as a unix socket, matching how buildctl/buildx address a local
// daemon; any other addr is passed through to grpc.Dial unchanged.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (control.ControlClient, io.Closer, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithInsecure()}, opts...)

	if !strings.Contains(addr, "://") {
		socket := addr
		dialOpts = append(dialOpts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}))
	}

	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to dial buildkit daemon at %s", addr)
	}
	return control.NewControlClient(conn), conn, nil
}

// ListWorkers is a thin passthrough, grounded in the daemon capabilities a
// caller may want to inspect before issuing a Solve.
func ListWorkers(ctx context.Context, c control.ControlClient) (*control.ListWorkersResponse, error) {
	return c.ListWorkers(ctx, &control.ListWorkersRequest{})
}

// DiskUsage is a thin passthrough over the daemon's cache usage report.
func DiskUsage(ctx context.Context, c control.ControlClient) (*control.DiskUsageResponse, error) {
	return c.DiskUsage(ctx, &control.DiskUsageRequest{})
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session owns the client side of a BuildKit session: generating
// its id and shared key, tracking which services are exposed to the
// daemon, and pumping BytesMessage frames between the outer control stream
// and the reverse HTTP/2 tunnel that serves them.
package session

import (
	"context"
	"io"

	control "github.com/moby/buildkit/api/services/control"
	"github.com/buildkit-session/core/pkg/tunnel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	headerSessionID        = "X-Docker-Expose-Session-Uuid"
	headerSessionName      = "X-Docker-Expose-Session-Name"
	headerSessionSharedKey = "X-Docker-Expose-Session-Sharedkey"
	headerSessionMethod    = "X-Docker-Expose-Session-Grpc-Method"
)

// exposedMethods is the exhaustive list of tunneled RPC paths advertised to
// the daemon up front, regardless of which of these an individual session
// actually has Allow'd a handler for. grpc-go answers UNIMPLEMENTED for any
// advertised path with no registered service, which is all the daemon needs
// to know it can skip that capability.
var exposedMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/moby.filesync.v1.FileSync/DiffCopy",
	"/moby.filesync.v1.FileSync/TarStream",
	"/moby.filesync.v1.Auth/Credentials",
	"/moby.filesync.v1.Auth/FetchToken",
	"/moby.filesync.v1.Auth/GetTokenAuthority",
	"/moby.filesync.v1.Auth/VerifyTokenAuthority",
	"/moby.buildkit.secrets.v1.Secrets/GetSecret",
	"/moby.sshforward.v1.SSH/CheckAgent",
	"/moby.sshforward.v1.SSH/ForwardAgent",
}

// Attachable is a service implementation that can register itself onto the
// tunneled gRPC server. FileSync, Auth, Secrets and Health handlers all
// implement it.
type Attachable interface {
	Register(*grpc.Server)
}

// Session is a single client-side BuildKit session: an id, a shared key
// used to correlate concurrent Solve calls against it, and the set of
// Attachables it exposes to the daemon.
type Session struct {
	ID        string
	SharedKey string

	attachables []Attachable
}

// New creates a session with a freshly generated id and shared key.
func New() *Session {
	return &Session{
		ID:        uuid.New().String(),
		SharedKey: "session-" + uuid.New().String(),
	}
}

// Allow registers a for a service to be exposed over the tunnel once Run
// starts. It must be called before Run.
func (s *Session) Allow(a Attachable) {
	s.attachables = append(s.attachables, a)
}

// Metadata returns the headers that both the Session stream and every
// Solve call referencing this session must carry.
func (s *Session) Metadata() metadata.MD {
	md := metadata.Pairs(
		headerSessionID, s.ID,
		headerSessionName, s.SharedKey,
		headerSessionSharedKey, s.SharedKey,
	)
	for _, m := range exposedMethods {
		md.Append(headerSessionMethod, m)
	}
	return md
}

// Run opens the Session control RPC, attaches session metadata to it, and
// runs the reverse tunnel until the outer stream closes, the daemon ends
// the call, or ctx is cancelled. A clean shutdown returns nil.
func (s *Session) Run(ctx context.Context, ctrl control.ControlClient) error {
	ctx = metadata.NewOutgoingContext(ctx, s.Metadata())

	stream, err := ctrl.Session(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open session stream")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan *control.BytesMessage, 128)
	outbound := make(chan *control.BytesMessage, 128)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		for {
			msg, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					// The daemon closed the outer stream: stop the tunnel
					// server and the outbound pump as well.
					cancel()
					return nil
				}
				return errors.Wrap(err, "session stream recv")
			}
			select {
			case inbound <- msg:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case msg := <-outbound:
				if err := stream.Send(msg); err != nil {
					return errors.Wrap(err, "session stream send")
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	adapter := tunnel.NewAdapter(inbound, outbound)
	srv := tunnel.NewServer(adapter)

	for _, a := range s.attachables {
		a.Register(srv.GRPCServer())
	}

	g.Go(func() error {
		defer cancel()
		defer adapter.Close()
		return srv.Serve(gctx)
	})

	err = g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The tunnel ending cleanly triggers our own cancel above; the
		// pumps then observe gctx.Done() and report context.Canceled.
		// That is a normal shutdown, not a failure, as long as the
		// caller's own context is still live.
		return nil
	}
	return err
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authsvc implements the Auth side of a BuildKit session: a static
// registry of (host, username, secret) credentials, matched against the
// host the daemon asks about.
package authsvc

import (
	"context"
	"strings"

	"github.com/moby/buildkit/session/auth"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const dockerHubAlias = "docker.io"

var dockerHubHosts = []string{"registry-1.docker.io", "index.docker.io"}

// Credential is one registered (host, username, secret) entry.
type Credential struct {
	Host     string
	Username string
	Secret   string
}

// Handler answers Credentials lookups against a fixed, read-only list of
// registered hosts. It never fails a lookup miss: the daemon falls back to
// an anonymous pull when given empty credentials.
type Handler struct {
	entries []Credential
}

// NewHandler builds a Handler from an ordered credential list. Earlier
// entries win on an exact host match tie.
func NewHandler(entries []Credential) *Handler {
	return &Handler{entries: entries}
}

// Register exposes the handler as the tunnel's Auth service.
func (h *Handler) Register(s *grpc.Server) {
	auth.RegisterAuthServer(s, h)
}

// Credentials implements the host-matching rule: exact match first, then a
// registered host that is a substring of the requested host, then the
// docker.io alias for registry-1.docker.io / index.docker.io. A miss
// replies with empty username/secret rather than an error.
func (h *Handler) Credentials(ctx context.Context, req *auth.CredentialsRequest) (*auth.CredentialsResponse, error) {
	if c, ok := h.lookup(req.Host); ok {
		return &auth.CredentialsResponse{Username: c.Username, Secret: c.Secret}, nil
	}
	logrus.Debugf("authsvc: no credentials registered for host %q, replying anonymous", req.Host)
	return &auth.CredentialsResponse{}, nil
}

func (h *Handler) lookup(host string) (Credential, bool) {
	for _, c := range h.entries {
		if c.Host == host {
			return c, true
		}
	}
	for _, c := range h.entries {
		if strings.Contains(host, c.Host) {
			return c, true
		}
	}
	for _, c := range h.entries {
		if c.Host == dockerHubAlias {
			for _, alias := range dockerHubHosts {
				if host == alias {
					return c, true
				}
			}
		}
	}
	return Credential{}, false
}

// FetchToken always returns an empty reply: the daemon performs its own
// token exchange once it has basic credentials.
func (h *Handler) FetchToken(ctx context.Context, req *auth.FetchTokenRequest) (*auth.FetchTokenResponse, error) {
	return &auth.FetchTokenResponse{}, nil
}

// GetTokenAuthority always errors, steering the daemon back to Credentials.
// The empty-public-key alternative (status OK, zero-value reply) is a valid
// fallback too; keeping this as a single branch makes it a one-line switch
// if a daemon version ever requires that instead.
func (h *Handler) GetTokenAuthority(ctx context.Context, req *auth.GetTokenAuthorityRequest) (*auth.GetTokenAuthorityResponse, error) {
	return nil, status.Error(codes.Unimplemented, "Token auth not implemented")
}

// VerifyTokenAuthority is unreachable in practice once GetTokenAuthority
// errors, but is implemented for completeness and symmetry.
func (h *Handler) VerifyTokenAuthority(ctx context.Context, req *auth.VerifyTokenAuthorityRequest) (*auth.VerifyTokenAuthorityResponse, error) {
	return nil, status.Error(codes.Unimplemented, "Token auth not implemented")
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secretssvc implements the Secrets side of a BuildKit session: a
// fixed id-to-bytes map, each entry capped at 500 KiB.
package secretssvc

import (
	"context"
	"fmt"

	"github.com/moby/buildkit/session/secrets"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxSecretSize is the largest single secret value this handler accepts.
const MaxSecretSize = 500 * 1024

// Handler answers GetSecret lookups against a fixed, read-only map.
type Handler struct {
	values map[string][]byte
}

// NewHandler builds a Handler from id-to-value pairs. It returns an error
// if any value exceeds MaxSecretSize.
func NewHandler(values map[string][]byte) (*Handler, error) {
	h := &Handler{values: make(map[string][]byte, len(values))}
	for id, v := range values {
		if len(v) > MaxSecretSize {
			return nil, errors.Errorf("secret %q is %d bytes, exceeds the %d byte limit", id, len(v), MaxSecretSize)
		}
		h.values[id] = v
	}
	return h, nil
}

// Register exposes the handler as the tunnel's Secrets service.
func (h *Handler) Register(s *grpc.Server) {
	secrets.RegisterSecretsServer(s, h)
}

// GetSecret replies with the raw bytes for a known id, NOT_FOUND for an
// unknown id, and a distinct NOT_FOUND message when no secrets were
// configured at all -- the daemon treats both as a build failure either
// way, but the message helps tell them apart in logs.
func (h *Handler) GetSecret(ctx context.Context, req *secrets.GetSecretRequest) (*secrets.GetSecretResponse, error) {
	if len(h.values) == 0 {
		return nil, status.Error(codes.NotFound, "no secrets configured for this session")
	}
	v, ok := h.values[req.ID]
	if !ok {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("secret %s not found", req.ID))
	}
	return &secrets.GetSecretResponse{Data: v}, nil
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package secretssvc

import (
	"bytes"
	"context"
	"testing"

	"github.com/moby/buildkit/session/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func Test_NewHandler_RejectsOversizedSecret(t *testing.T) {
	t.Parallel()
	_, err := NewHandler(map[string][]byte{"big": make([]byte, MaxSecretSize+1)})
	require.Error(t, err)
}

func Test_NewHandler_AcceptsExactlyAtLimit(t *testing.T) {
	t.Parallel()
	_, err := NewHandler(map[string][]byte{"big": make([]byte, MaxSecretSize)})
	require.NoError(t, err)
}

func Test_Handler_GetSecretFound(t *testing.T) {
	t.Parallel()
	h, err := NewHandler(map[string][]byte{"api_key": []byte("v")})
	require.NoError(t, err)

	resp, err := h.GetSecret(context.Background(), &secrets.GetSecretRequest{ID: "api_key"})
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("v"), resp.Data))
}

func Test_Handler_GetSecretNotFound(t *testing.T) {
	t.Parallel()
	h, err := NewHandler(map[string][]byte{"api_key": []byte("v")})
	require.NoError(t, err)

	_, err = h.GetSecret(context.Background(), &secrets.GetSecretRequest{ID: "missing"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, err.Error(), "missing")
}

func Test_Handler_GetSecretNoneConfigured(t *testing.T) {
	t.Parallel()
	h, err := NewHandler(nil)
	require.NoError(t, err)

	_, err = h.GetSecret(context.Background(), &secrets.GetSecretRequest{ID: "anything"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

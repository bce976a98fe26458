// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package sshsvc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseSpecs_EmptyIsValid(t *testing.T) {
	t.Parallel()
	configs, err := ParseSpecs(nil)
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func Test_ParseSpecs_DefaultIDWithNoValue(t *testing.T) {
	t.Parallel()
	configs, err := ParseSpecs([]string{"default"})
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "default", configs[0].ID)
	assert.Empty(t, configs[0].Paths)
}

func Test_ParseSpecs_MissingSocketOrKeyErrors(t *testing.T) {
	t.Parallel()
	_, err := ParseSpecs([]string{"someid=bogus-file-does-not-exist"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file or directory")
}

func Test_ParseSpecs_ExplicitPathIsAccepted(t *testing.T) {
	t.Parallel()
	f := t.TempDir() + "/id_rsa"
	require.NoError(t, os.WriteFile(f, []byte("fake-key"), 0o600))
	configs, err := ParseSpecs([]string{"work=" + f})
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "work", configs[0].ID)
	assert.Equal(t, []string{f}, configs[0].Paths)
}

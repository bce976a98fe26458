// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package platformutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Parse(t *testing.T) {
	t.Parallel()

	p, err := Parse("linux/amd64")
	assert.NoError(t, err)
	assert.Equal(t, "linux", p.OS)
	assert.Equal(t, "amd64", p.Architecture)
	assert.Equal(t, "", p.Variant)
	assert.Equal(t, "linux/amd64", Format(p))

	p, err = Parse("linux/arm/v7")
	assert.NoError(t, err)
	assert.Equal(t, "v7", p.Variant)
	assert.Equal(t, "linux/arm/v7", Format(p))

	_, err = Parse("linux")
	assert.Error(t, err)

	_, err = Parse("linux/arm/v7/extra")
	assert.Error(t, err)
}

func Test_ParseAll(t *testing.T) {
	t.Parallel()

	platforms, err := ParseAll([]string{"linux/amd64", "linux/arm64/v8"})
	assert.NoError(t, err)
	assert.Len(t, platforms, 2)
	assert.Equal(t, "linux/amd64,linux/arm64/v8", FormatAll(platforms))
	assert.Equal(t, "", FormatAll(nil))

	_, err = ParseAll([]string{"linux/amd64,acme"})
	assert.Error(t, err)
}

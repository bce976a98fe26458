// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package buildconfig is the value object a caller fills in to describe a
// single Solve: context source, tags, platforms, build args, caches,
// registry credentials and secrets.
package buildconfig

import (
	"os"

	"github.com/buildkit-session/core/pkg/platformutil"
	"github.com/docker/docker/pkg/urlutil"
	"github.com/pkg/errors"
)

const maxSecretSize = 500 * 1024

// GitSource describes a remote build context fetched by the daemon itself.
type GitSource struct {
	URL   string
	Ref   string
	Token string
}

// RegistryAuth is one registry credential entry, mirroring authsvc.Credential.
type RegistryAuth struct {
	Host     string
	Username string
	Password string
}

// Config describes a single build. Exactly one of ContextPath or Git must
// be set.
type Config struct {
	// Context source.
	ContextPath string
	Git         *GitSource

	Dockerfile string
	Target     string
	BuildArgs  map[string]string
	Labels     map[string]string
	Platforms  []string
	Tags       []string

	RegistryAuth []RegistryAuth
	Secrets      map[string][]byte

	CacheFrom []string
	CacheTo   []string

	NoCache bool
	Pull    bool

	Entitlements []string
	ExtraHosts   []string
	NetworkMode  string

	// SSH holds --ssh-style specs of the form "default|<id>[=<socket>|<key>[,<key>]]",
	// each exposing a local ssh-agent socket or key pair to the build.
	SSH []string

	ImageIDFile string
}

// Validate rejects configurations that are invalid at the API boundary,
// before any session or solve is started: oversized secrets, unparsable
// platforms, and a context path that doesn't exist or isn't a directory.
func (c *Config) Validate() error {
	if (c.ContextPath == "") == (c.Git == nil) {
		return errors.New("exactly one of ContextPath or Git must be set")
	}

	if c.ContextPath != "" {
		info, err := os.Stat(c.ContextPath)
		if err != nil {
			return errors.Wrap(err, "invalid build context")
		}
		if !info.IsDir() {
			return errors.Errorf("build context %s is not a directory", c.ContextPath)
		}
	}

	if c.Git != nil && !urlutil.IsGitURL(c.Git.URL) && !urlutil.IsURL(c.Git.URL) {
		return errors.Errorf("git context %q is not a recognized git or http(s) URL", c.Git.URL)
	}

	if _, err := platformutil.ParseAll(c.Platforms); err != nil {
		return err
	}

	for id, v := range c.Secrets {
		if len(v) > maxSecretSize {
			return errors.Errorf("secret %q is %d bytes, exceeds the %d byte limit", id, len(v), maxSecretSize)
		}
	}

	switch c.NetworkMode {
	case "", "default", "host", "none":
	default:
		return errors.Errorf("network mode %q is not supported", c.NetworkMode)
	}

	return nil
}

// ParsedPlatformString returns c.Platforms parsed and re-joined in BuildKit's
// comma-separated platform-string form.
func (c *Config) ParsedPlatformString() (string, error) {
	ps, err := platformutil.ParseAll(c.Platforms)
	if err != nil {
		return "", err
	}
	return platformutil.FormatAll(ps), nil
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sshsvc exposes local ssh-agent sockets and keys to the daemon over
// the session, the way "docker buildx build --ssh" does.
//
// The teacher's own SSH proxy (pkg/proxy/sshproxy.go) forwards
// ForwardAgent/CheckAgent through to a second hop, a separate CLI process
// holding the real agent connection, because that proxy sits between the
// daemon and a cluster-side driver. Here the session is owned directly by
// the process that has the agent socket, so there is no second hop to
// forward across: this wires the real
// github.com/moby/buildkit/session/sshforward/sshprovider implementation,
// which already is the production byte-pump this package's teacher
// equivalent hand-rolls for its proxying case.
package sshsvc

import (
	"os"
	"strings"

	"github.com/moby/buildkit/session/sshforward/sshprovider"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// ParseSpecs parses --ssh style specs of the form
// "default|<id>[=<socket>|<key>[,<key>]]" into sshprovider agent configs.
// An id with no "=value" part resolves to the SSH_AUTH_SOCK agent when
// NewHandler builds the provider; listing one or more paths pins it to
// those sockets/keys instead.
func ParseSpecs(specs []string) ([]sshprovider.AgentConfig, error) {
	var configs []sshprovider.AgentConfig
	for _, spec := range specs {
		id := "default"
		value := ""
		if i := strings.Index(spec, "="); i != -1 {
			id, value = spec[:i], spec[i+1:]
		} else if spec != "" {
			id = spec
		}

		cfg := sshprovider.AgentConfig{ID: id}
		if value != "" {
			cfg.Paths = strings.Split(value, ",")
			for _, p := range cfg.Paths {
				if _, err := os.Stat(p); err != nil {
					return nil, errors.Wrapf(err, "failed to find ssh agent socket or key for %q", id)
				}
			}
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// NewHandler builds a session Attachable backed by the ssh-agent sockets and
// keys named in specs, one sshprovider.AgentConfig per spec.
func NewHandler(specs []string) (Attachable, error) {
	configs, err := ParseSpecs(specs)
	if err != nil {
		return nil, err
	}
	return sshprovider.NewSSHAgentProvider(configs)
}

// Attachable mirrors session.Attachable locally so this package doesn't
// need to import the session package just to name the return type.
type Attachable interface {
	Register(*grpc.Server)
}

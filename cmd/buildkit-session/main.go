// Portions Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command buildkit-session drives a single BuildKit build directly over a
// control socket, without any cluster or multi-builder machinery: it opens
// a session, tunnels FileSync/Auth/Secrets/Health back to the daemon, and
// streams progress to the terminal.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/buildkit-session/core/pkg/buildconfig"
	"github.com/buildkit-session/core/pkg/control"
	"github.com/buildkit-session/core/pkg/progress"
	"github.com/buildkit-session/core/pkg/session"
	"github.com/buildkit-session/core/pkg/session/authsvc"
	"github.com/buildkit-session/core/pkg/session/filesync"
	"github.com/buildkit-session/core/pkg/session/healthsvc"
	"github.com/buildkit-session/core/pkg/session/secretssvc"
	"github.com/buildkit-session/core/pkg/session/sshsvc"
	"github.com/buildkit-session/core/pkg/solve"
	"github.com/buildkit-session/core/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type buildOptions struct {
	addr        string
	contextPath string
	dockerfile  string
	target      string
	tags        []string
	buildArgs   []string
	labels      []string
	platforms   []string
	secrets     []string
	cacheFrom   []string
	cacheTo     []string
	extraHosts  []string
	ssh         []string
	networkMode string
	noCache     bool
	pull        bool
	imageIDFile string
	consoleUI   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buildkit-session",
		Short: "Drive a BuildKit daemon build over a direct session",
	}
	cmd.AddCommand(newBuildCmd(), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version.GetVersionString())
			return nil
		},
	}
}

func newBuildCmd() *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an image from a local context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "/run/buildkit/buildkitd.sock", "buildkitd control socket")
	flags.StringVar(&opts.contextPath, "context", ".", "build context directory")
	flags.StringVarP(&opts.dockerfile, "file", "f", "", "name of the Dockerfile, relative to context")
	flags.StringVar(&opts.target, "target", "", "target build stage")
	flags.StringArrayVarP(&opts.tags, "tag", "t", nil, "image tag (repeatable)")
	flags.StringArrayVar(&opts.buildArgs, "build-arg", nil, "build-time variable, KEY=VALUE (repeatable)")
	flags.StringArrayVar(&opts.labels, "label", nil, "image label, KEY=VALUE (repeatable)")
	flags.StringArrayVar(&opts.platforms, "platform", nil, "target platform, os/arch[/variant] (repeatable)")
	flags.StringArrayVar(&opts.secrets, "secret", nil, "secret, id=ID,src=FILE (repeatable)")
	flags.StringArrayVar(&opts.cacheFrom, "cache-from", nil, "external cache source (repeatable)")
	flags.StringArrayVar(&opts.cacheTo, "cache-to", nil, "cache export destination (repeatable)")
	flags.StringArrayVar(&opts.extraHosts, "add-host", nil, "host:ip mapping to add to /etc/hosts (repeatable)")
	flags.StringArrayVar(&opts.ssh, "ssh", nil, "SSH agent socket or keys to expose to the build (format: default|<id>[=<socket>|<key>[,<key>]])")
	flags.StringVar(&opts.networkMode, "network", "", "network mode for RUN instructions (default/host/none)")
	flags.BoolVar(&opts.noCache, "no-cache", false, "do not use cache when building")
	flags.BoolVar(&opts.pull, "pull", false, "always attempt to pull a newer base image")
	flags.StringVar(&opts.imageIDFile, "iidfile", "", "write the image ID to this file")
	flags.BoolVar(&opts.consoleUI, "tty", false, "render progress as a terminal UI instead of logs")

	return cmd
}

func runBuild(ctx context.Context, opts *buildOptions) error {
	cfg, err := toBuildConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctrl, closer, err := control.Dial(ctx, opts.addr)
	if err != nil {
		return err
	}
	defer closer.Close()

	sess := session.New()
	sess.Allow(healthsvc.NewHandler())
	sess.Allow(filesync.NewHandler(cfg.ContextPath))

	if len(cfg.RegistryAuth) > 0 {
		creds := make([]authsvc.Credential, len(cfg.RegistryAuth))
		for i, a := range cfg.RegistryAuth {
			creds[i] = authsvc.Credential{Host: a.Host, Username: a.Username, Secret: a.Password}
		}
		sess.Allow(authsvc.NewHandler(creds))
	}
	if len(cfg.Secrets) > 0 {
		secretsHandler, err := secretssvc.NewHandler(cfg.Secrets)
		if err != nil {
			return err
		}
		sess.Allow(secretsHandler)
	}
	if len(cfg.SSH) > 0 {
		sshHandler, err := sshsvc.NewHandler(cfg.SSH)
		if err != nil {
			return err
		}
		sess.Allow(sshHandler)
	}

	sessDone := make(chan error, 1)
	go func() { sessDone <- sess.Run(ctx, ctrl) }()

	var handler progress.Handler = progress.NewLogHandler()
	if opts.consoleUI {
		handler = progress.NewConsole(os.Stdout)
	}

	result, err := solve.Solve(ctx, ctrl, sess, cfg, handler)
	if err != nil {
		return err
	}

	if opts.imageIDFile != "" {
		if err := os.WriteFile(opts.imageIDFile, []byte(result.Digest), 0o644); err != nil {
			return errors.Wrap(err, "failed to write iidfile")
		}
	}

	return <-sessDone
}

func toBuildConfig(opts *buildOptions) (*buildconfig.Config, error) {
	buildArgs, err := splitKV(opts.buildArgs)
	if err != nil {
		return nil, err
	}
	labels, err := splitKV(opts.labels)
	if err != nil {
		return nil, err
	}
	secrets, err := loadSecrets(opts.secrets)
	if err != nil {
		return nil, err
	}

	return &buildconfig.Config{
		ContextPath: opts.contextPath,
		Dockerfile:  opts.dockerfile,
		Target:      opts.target,
		Tags:        opts.tags,
		BuildArgs:   buildArgs,
		Labels:      labels,
		Platforms:   opts.platforms,
		Secrets:     secrets,
		CacheFrom:   opts.cacheFrom,
		CacheTo:     opts.cacheTo,
		ExtraHosts:  opts.extraHosts,
		SSH:         opts.ssh,
		NetworkMode: opts.networkMode,
		NoCache:     opts.noCache,
		Pull:        opts.pull,
		ImageIDFile: opts.imageIDFile,
	}, nil
}

func splitKV(in []string) (map[string]string, error) {
	out := map[string]string{}
	for _, kv := range in {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("expected KEY=VALUE, got %q", kv)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

// loadSecrets parses --secret id=ID,src=FILE entries and reads each file's
// contents into the returned map.
func loadSecrets(in []string) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, spec := range in {
		var id, src string
		for _, field := range strings.Split(spec, ",") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "id":
				id = kv[1]
			case "src":
				src = kv[1]
			}
		}
		if id == "" || src == "" {
			return nil, errors.Errorf("expected id=ID,src=FILE, got %q", spec)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read secret %s", id)
		}
		out[id] = data
	}
	return out, nil
}

// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package solve turns a buildconfig.Config plus a live session into a
// control.SolveRequest, issues it, and drains the resulting Status stream
// into a progress.Handler.
package solve

import (
	"context"
	"fmt"
	"io"
	"strings"

	control "github.com/moby/buildkit/api/services/control"
	"github.com/buildkit-session/core/pkg/buildconfig"
	"github.com/buildkit-session/core/pkg/progress"
	"github.com/buildkit-session/core/pkg/session"
	"github.com/docker/distribution/reference"
	"github.com/google/uuid"
	bkentitlements "github.com/moby/buildkit/util/entitlements"
	"github.com/pkg/errors"
	"google.golang.org/grpc/metadata"
)

const digestExporterResponseKey = "containerimage.digest"

// Result is the outcome of a successful Solve.
type Result struct {
	Ref    string
	Digest string
	// ExporterResponse carries the full key/value map the daemon's
	// exporter returned, digest included.
	ExporterResponse map[string]string
}

// Solve builds frontend attributes, exporters, and cache entries from cfg,
// issues Solve against ctrl with sess's metadata duplicated onto the call,
// and concurrently drains Status into handler until the build completes.
func Solve(ctx context.Context, ctrl control.ControlClient, sess *session.Session, cfg *buildconfig.Config, handler progress.Handler) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ref := "build-" + uuid.New().String()

	req, err := buildRequest(ref, sess, cfg)
	if err != nil {
		return nil, err
	}

	reqCtx := ctx
	if sess != nil {
		reqCtx = metadata.NewOutgoingContext(ctx, sess.Metadata())
	}

	if handler != nil {
		handler.OnStart()
	}

	statusDone := make(chan error, 1)
	statusCtx, cancelStatus := context.WithCancel(ctx)
	defer cancelStatus()
	go func() {
		statusDone <- monitorStatus(statusCtx, ctrl, ref, handler)
	}()

	resp, err := ctrl.Solve(reqCtx, req)
	cancelStatus()
	<-statusDone

	if err != nil {
		if handler != nil {
			handler.OnError(err.Error())
		}
		return nil, errors.Wrap(err, "solve failed")
	}

	if handler != nil {
		handler.OnComplete()
	}

	return &Result{
		Ref:              ref,
		Digest:           resp.ExporterResponse[digestExporterResponseKey],
		ExporterResponse: resp.ExporterResponse,
	}, nil
}

func monitorStatus(ctx context.Context, ctrl control.ControlClient, ref string, handler progress.Handler) error {
	stream, err := ctrl.Status(ctx, &control.StatusRequest{Ref: ref})
	if err != nil {
		return errors.Wrap(err, "failed to open status stream")
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if handler != nil {
			handler.OnStatus(resp)
		}
	}
}

func buildRequest(ref string, sess *session.Session, cfg *buildconfig.Config) (*control.SolveRequest, error) {
	attrs := map[string]string{}

	if cfg.Dockerfile != "" {
		attrs["filename"] = cfg.Dockerfile
	}
	for k, v := range cfg.BuildArgs {
		attrs["build-arg:"+k] = v
	}
	for k, v := range cfg.Labels {
		attrs["label:"+k] = v
	}
	if cfg.Target != "" {
		attrs["target"] = cfg.Target
	}
	if len(cfg.Platforms) > 0 {
		platformStr, err := cfg.ParsedPlatformString()
		if err != nil {
			return nil, err
		}
		attrs["platform"] = platformStr
	}
	if cfg.NoCache {
		attrs["no-cache"] = "true"
	}
	if cfg.Pull {
		attrs["image-resolve-mode"] = "pull"
	}

	var entitlements []string
	entitlements = append(entitlements, cfg.Entitlements...)
	switch cfg.NetworkMode {
	case "host", "none":
		attrs["force-network-mode"] = cfg.NetworkMode
		entitlements = append(entitlements, string(bkentitlements.EntitlementNetworkHost))
	}
	if len(cfg.ExtraHosts) > 0 {
		attrs["add-hosts"] = strings.Join(cfg.ExtraHosts, ",")
	}

	contextStr, err := buildContext(sess, cfg)
	if err != nil {
		return nil, err
	}
	attrs["context"] = contextStr

	var exporter string
	var exporterAttrs map[string]string
	if len(cfg.Tags) > 0 {
		exporter = "image"
		exporterAttrs = map[string]string{
			"name": strings.Join(cfg.Tags, ","),
			"push": "true",
		}
		if isInsecureRegistry(registryHost(cfg)) {
			exporterAttrs["registry.insecure"] = "true"
		}
	}

	req := &control.SolveRequest{
		Ref:           ref,
		Frontend:      "dockerfile.v0",
		FrontendAttrs: attrs,
		Exporter:      exporter,
		ExporterAttrs: exporterAttrs,
		Entitlements:  entitlements,
		Cache:         buildCacheOptions(cfg),
	}
	if sess != nil {
		req.Session = sess.ID
	}
	return req, nil
}

func buildContext(sess *session.Session, cfg *buildconfig.Config) (string, error) {
	if cfg.Git != nil {
		url := cfg.Git.URL
		if cfg.Git.Token != "" {
			url = injectToken(url, cfg.Git.Token)
		}
		if cfg.Git.Ref != "" {
			return fmt.Sprintf("%s#%s", url, cfg.Git.Ref), nil
		}
		return url, nil
	}
	if sess == nil {
		return "", errors.New("a local build context requires an active session")
	}
	return fmt.Sprintf("input:%s:context", sess.SharedKey), nil
}

func injectToken(rawURL, token string) string {
	const scheme = "https://"
	if !strings.HasPrefix(rawURL, scheme) {
		return rawURL
	}
	return scheme + token + "@" + strings.TrimPrefix(rawURL, scheme)
}

// registryHost resolves the registry domain a build will push to, preferring
// an explicit credential entry and otherwise normalizing the first tag the
// way docker/distribution's reference parser does (bare repo names resolve
// to docker.io, exactly as they would for `docker push`).
func registryHost(cfg *buildconfig.Config) string {
	if len(cfg.RegistryAuth) > 0 {
		return cfg.RegistryAuth[0].Host
	}
	named, err := reference.ParseNormalizedNamed(cfg.Tags[0])
	if err != nil {
		return ""
	}
	return reference.Domain(named)
}

func isInsecureRegistry(host string) bool {
	if host == "" {
		return false
	}
	if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") || strings.HasPrefix(host, "registry:") {
		return true
	}
	return !strings.Contains(host, ".") && host != "docker.io"
}

func buildCacheOptions(cfg *buildconfig.Config) *control.CacheOptions {
	if len(cfg.CacheFrom) == 0 && len(cfg.CacheTo) == 0 {
		return nil
	}
	opts := &control.CacheOptions{}
	for _, src := range cfg.CacheFrom {
		opts.Imports = append(opts.Imports, &control.CacheOptionsEntry{
			Type:  "registry",
			Attrs: map[string]string{"ref": src},
		})
	}
	for _, dst := range cfg.CacheTo {
		opts.Exports = append(opts.Exports, &control.CacheOptionsEntry{
			Type:  "registry",
			Attrs: map[string]string{"ref": dst, "mode": "max"},
		})
	}
	return opts
}

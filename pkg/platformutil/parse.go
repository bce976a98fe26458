// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package platformutil parses and formats the platform strings accepted by
// the solve request's "platform" frontend attribute.
package platformutil

import (
	"strings"

	"github.com/containerd/containerd/platforms"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
)

// Parse validates a single platform string of the form "os/arch" or
// "os/arch/variant". Any other number of slash-separated parts is rejected,
// and so is a comma-separated list of platforms.
func Parse(s string) (specs.Platform, error) {
	if strings.Contains(s, ",") {
		return specs.Platform{}, errors.Errorf("invalid platform %q: expected a single os/arch or os/arch/variant, not a list", s)
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 2:
		return specs.Platform{OS: parts[0], Architecture: parts[1]}, nil
	case 3:
		return specs.Platform{OS: parts[0], Architecture: parts[1], Variant: parts[2]}, nil
	default:
		return specs.Platform{}, errors.Errorf("invalid platform %q: expected os/arch or os/arch/variant", s)
	}
}

// ParseAll parses a list of platform strings, preserving order.
func ParseAll(in []string) ([]specs.Platform, error) {
	out := make([]specs.Platform, 0, len(in))
	for _, s := range in {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Format renders a platform back to its "os/arch[/variant]" string form
// without normalizing it, so Format(Parse(s)) returns s unchanged.
func Format(p specs.Platform) string {
	return platforms.Format(p)
}

// FormatAll formats a list of platforms, comma-joined, as used by the
// solve request's "platform" frontend attribute.
func FormatAll(in []specs.Platform) string {
	parts := make([]string, len(in))
	for i, p := range in {
		parts[i] = Format(p)
	}
	return strings.Join(parts, ",")
}

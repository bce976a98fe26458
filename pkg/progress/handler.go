// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package progress defines the contract a Solve caller implements to
// observe build progress, plus two concrete consumers of it.
package progress

import (
	control "github.com/moby/buildkit/api/services/control"
)

// Handler consumes a Solve's progress stream. OnStatus is called once per
// StatusResponse received from the daemon, in arrival order; OnComplete
// fires exactly once, after the last OnStatus, on a successful solve;
// OnError fires instead of OnComplete if the Solve call fails. A failing
// status stream only ends OnStatus delivery; it does not trigger OnError.
type Handler interface {
	OnStart()
	OnStatus(*control.StatusResponse)
	OnError(string)
	OnComplete()
}

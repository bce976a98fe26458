// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package progress

import (
	control "github.com/moby/buildkit/api/services/control"
	"github.com/sirupsen/logrus"
)

// LogHandler is the default Handler: it logs vertex and log-line activity
// through logrus rather than rendering a terminal UI.
type LogHandler struct{}

// NewLogHandler returns a LogHandler.
func NewLogHandler() *LogHandler { return &LogHandler{} }

func (h *LogHandler) OnStart() {
	logrus.Debug("solve started")
}

func (h *LogHandler) OnStatus(s *control.StatusResponse) {
	for _, v := range s.Vertexes {
		switch {
		case v.Error != "":
			logrus.Errorf("%s: %s", v.Name, v.Error)
		case v.Completed != nil:
			logrus.Infof("%s done", v.Name)
		case v.Started != nil:
			logrus.Debugf("%s running", v.Name)
		}
	}
	for _, l := range s.Logs {
		logrus.Debugf("[%s] %s", l.Vertex, string(l.Msg))
	}
}

func (h *LogHandler) OnError(msg string) {
	logrus.Errorf("solve failed: %s", msg)
}

func (h *LogHandler) OnComplete() {
	logrus.Debug("solve complete")
}

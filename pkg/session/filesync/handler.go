// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package filesync implements the FileSync side of a BuildKit session: the
// STAT/REQ/DATA/FIN state machine that streams a local build context tree
// to the daemon over DiffCopy.
package filesync

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/moby/buildkit/session/filesync"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tonistiigi/fsutil/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const dirNameHeader = "dir-name"
const dockerfileDirName = "dockerfile"
const chunkSize = 32 * 1024

const (
	modeDir = 0o040000
	modeReg = 0o100000
)

// Handler serves DiffCopy requests by walking a single root directory.
// A Handler is read-only and safe to reuse across concurrent DiffCopy
// calls; each call tracks its own id-to-path map.
type Handler struct {
	root string
}

// NewHandler returns a FileSync handler rooted at root. root must be an
// existing directory.
func NewHandler(root string) *Handler {
	return &Handler{root: root}
}

// Register exposes the handler as the tunnel's FileSync service.
func (h *Handler) Register(s *grpc.Server) {
	filesync.RegisterFileSyncServer(s, h)
}

// DiffCopy streams the context tree rooted at h.root to the daemon: all
// STATs, then a terminator STAT, then file contents on REQ, then a closing
// FIN. See the package doc for the exact state machine.
func (h *Handler) DiffCopy(stream filesync.FileSync_DiffCopyServer) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	idToPath := map[uint32]string{}

	if dockerfileOnly(md) {
		if err := h.sendDockerfileStat(stream, idToPath); err != nil {
			return err
		}
	} else if err := h.walkStats(stream, idToPath); err != nil {
		return err
	}

	if err := stream.Send(&types.Packet{Type: types.PACKET_STAT}); err != nil {
		return errors.Wrap(err, "failed to send stat terminator")
	}

reqLoop:
	for {
		pkt, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break reqLoop
			}
			return errors.Wrap(err, "failed to receive filesync packet")
		}

		switch pkt.Type {
		case types.PACKET_FIN:
			break reqLoop
		case types.PACKET_REQ:
			path, ok := idToPath[pkt.ID]
			if !ok {
				logrus.Debugf("filesync: REQ for id %d has no file (directory or unknown), ignoring", pkt.ID)
				continue reqLoop
			}
			if err := h.sendFile(stream, pkt.ID, path); err != nil {
				return err
			}
		default:
			logrus.Debugf("filesync: ignoring unexpected packet type %v during REQ phase", pkt.Type)
		}
	}

	if err := stream.Send(&types.Packet{Type: types.PACKET_FIN}); err != nil {
		return errors.Wrap(err, "failed to send fin")
	}
	return nil
}

// TarStream has no known daemon caller in this protocol version.
func (h *Handler) TarStream(stream filesync.FileSync_TarStreamServer) error {
	return status.Error(codes.Unimplemented, "TarStream is not implemented")
}

func dockerfileOnly(md metadata.MD) bool {
	vs := md.Get(dirNameHeader)
	return len(vs) > 0 && vs[0] == dockerfileDirName
}

func (h *Handler) sendDockerfileStat(stream filesync.FileSync_DiffCopyServer, idToPath map[uint32]string) error {
	full := filepath.Join(h.root, "Dockerfile")
	info, err := os.Stat(full)
	if err != nil {
		return errors.Wrap(err, "dockerfile not found in build context")
	}
	st, err := statFromInfo("Dockerfile", full, info)
	if err != nil {
		return err
	}
	idToPath[0] = full
	return stream.Send(&types.Packet{Type: types.PACKET_STAT, ID: 0, Stat: st})
}

// walkStats enumerates h.root depth-first, with each directory's children
// sorted by byte-wise name before recursing, assigning dense monotonic ids
// in emission order. Only FILE ids are retained in idToPath, so a REQ for a
// directory id becomes a harmless no-op rather than an error.
func (h *Handler) walkStats(stream filesync.FileSync_DiffCopyServer, idToPath map[uint32]string) error {
	var id uint32
	var walk func(dir, relPrefix string) error
	walk = func(dir, relPrefix string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "failed to read directory %s", dir)
		}
		names := make([]string, len(entries))
		byName := make(map[string]os.DirEntry, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
			byName[e.Name()] = e
		}
		sort.Strings(names)

		for _, name := range names {
			e := byName[name]
			rel := name
			if relPrefix != "" {
				rel = relPrefix + "/" + name
			}
			full := filepath.Join(dir, name)

			if err := h.validatePath(full); err != nil {
				return err
			}

			info, err := e.Info()
			if err != nil {
				return errors.Wrapf(err, "failed to stat %s", full)
			}

			st, err := statFromInfo(rel, full, info)
			if err != nil {
				return err
			}

			thisID := id
			id++
			if !info.IsDir() {
				idToPath[thisID] = full
			}

			if err := stream.Send(&types.Packet{Type: types.PACKET_STAT, ID: thisID, Stat: st}); err != nil {
				return errors.Wrap(err, "failed to send stat")
			}

			if info.IsDir() {
				if err := walk(full, rel); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(h.root, "")
}

// validatePath rejects entries that escape h.root through a symlink.
func (h *Handler) validatePath(full string) error {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", full)
	}
	root, err := filepath.EvalSymlinks(h.root)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve root %s", h.root)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return errors.Errorf("path %s escapes build context root", full)
	}
	return nil
}

func (h *Handler) sendFile(stream filesync.FileSync_DiffCopyServer, id uint32, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := stream.Send(&types.Packet{Type: types.PACKET_DATA, ID: id, Data: chunk}); err != nil {
				return errors.Wrap(err, "failed to send data")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrapf(readErr, "failed to read %s", path)
		}
	}

	return stream.Send(&types.Packet{Type: types.PACKET_DATA, ID: id, Data: nil})
}

func statFromInfo(relPath, fullPath string, info os.FileInfo) (*types.Stat, error) {
	mode := uint32(info.Mode().Perm())
	if info.IsDir() {
		mode |= modeDir
	} else {
		mode |= modeReg
	}

	st := &types.Stat{
		Path:     relPath,
		Mode:     mode,
		ModTime:  info.ModTime().UnixNano(),
		Linkname: "",
	}

	if info.IsDir() {
		st.Size_ = 0
	} else {
		st.Size_ = info.Size()
	}

	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		st.Uid = sys.Uid
		st.Gid = sys.Gid
	}

	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(fullPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read link %s", fullPath)
		}
		st.Linkname = link
	}

	return st, nil
}

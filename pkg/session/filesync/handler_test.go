// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package filesync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tonistiigi/fsutil/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

type fakeServerStream struct {
	ctx context.Context
}

func (f *fakeServerStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeServerStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeServerStream) SetTrailer(metadata.MD)       {}
func (f *fakeServerStream) Context() context.Context     { return f.ctx }
func (f *fakeServerStream) SendMsg(interface{}) error    { return nil }
func (f *fakeServerStream) RecvMsg(interface{}) error    { return nil }

type fakeDiffCopyStream struct {
	fakeServerStream
	sent chan *types.Packet
	recv chan *types.Packet
}

func newFakeDiffCopyStream(ctx context.Context) *fakeDiffCopyStream {
	return &fakeDiffCopyStream{
		fakeServerStream: fakeServerStream{ctx: ctx},
		sent:             make(chan *types.Packet, 64),
		recv:             make(chan *types.Packet, 64),
	}
}

func (f *fakeDiffCopyStream) Send(p *types.Packet) error {
	f.sent <- p
	return nil
}

func (f *fakeDiffCopyStream) Recv() (*types.Packet, error) {
	p, ok := <-f.recv
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func Test_Handler_DiffCopyFullTree(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b-file.txt"), []byte("B"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a-dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a-dir", "file.txt"), []byte("hello world"), 0o644))

	h := NewHandler(root)
	stream := newFakeDiffCopyStream(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.DiffCopy(stream) }()

	var order []string
	idFor := map[string]uint32{}
	for {
		select {
		case p := <-stream.sent:
			if p.Stat == nil {
				goto statsDone
			}
			order = append(order, p.Stat.Path)
			idFor[p.Stat.Path] = p.ID
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stat packets")
		}
	}
statsDone:
	assert.Equal(t, []string{"a-dir", "a-dir/file.txt", "b-file.txt"}, order)

	stream.recv <- &types.Packet{Type: types.PACKET_REQ, ID: idFor["a-dir/file.txt"]}

	var data []byte
	for {
		select {
		case p := <-stream.sent:
			require.Equal(t, types.PACKET_DATA, p.Type)
			if len(p.Data) == 0 {
				goto fileDone
			}
			data = append(data, p.Data...)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for data packets")
		}
	}
fileDone:
	assert.Equal(t, "hello world", string(data))

	close(stream.recv)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("DiffCopy did not return")
	}

	fin := <-stream.sent
	assert.Equal(t, types.PACKET_FIN, fin.Type)
}

func Test_Handler_DockerfileOnlyMissing(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "noise.txt"), []byte("x"), 0o644))

	h := NewHandler(root)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(dirNameHeader, dockerfileDirName))
	stream := newFakeDiffCopyStream(ctx)
	close(stream.recv)

	err := h.DiffCopy(stream)
	require.Error(t, err)
}

func Test_Handler_REQForDirectoryIdIsIgnored(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "a-dir"), 0o755))

	h := NewHandler(root)
	stream := newFakeDiffCopyStream(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.DiffCopy(stream) }()

	var dirID uint32
	for {
		p := <-stream.sent
		if p.Stat == nil {
			break
		}
		dirID = p.ID
	}

	stream.recv <- &types.Packet{Type: types.PACKET_REQ, ID: dirID}
	stream.recv <- &types.Packet{Type: types.PACKET_FIN}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("DiffCopy did not return")
	}
	fin := <-stream.sent
	assert.Equal(t, types.PACKET_FIN, fin.Type)
}

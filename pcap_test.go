// SPDX-License-Identifier: GPL-3.0-or-later

package virteth_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bassosimone/iotest"
	"github.com/bassosimone/virteth"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcapBuffer is a thread safe in-memory capture file.
type pcapBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (pb *pcapBuffer) writeCloser() io.WriteCloser {
	return &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) {
			pb.mu.Lock()
			defer pb.mu.Unlock()
			return pb.buf.Write(b)
		},
		CloseFunc: func() error {
			return nil
		},
	}
}

func (pb *pcapBuffer) reader(t *testing.T) *pcapgo.Reader {
	t.Helper()
	pb.mu.Lock()
	data := bytes.Clone(pb.buf.Bytes())
	pb.mu.Unlock()
	r, err := pcapgo.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	return r
}

func TestPCAPTraceCloseHeaderWriteError(t *testing.T) {
	writeErr := errors.New("mocked write error")
	closeErr := errors.New("mocked close error")
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func([]byte) (int, error) {
			return 0, writeErr
		},
		CloseFunc: func() error {
			return closeErr
		},
	}
	trace := virteth.NewPCAPTrace(wc, virteth.MTUEthernet)
	err := trace.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, writeErr))
	assert.True(t, errors.Is(err, closeErr))
}

func TestPCAPTraceDroppedWhenBufferFull(t *testing.T) {
	gate := make(chan struct{})
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) {
			<-gate
			return len(b), nil
		},
		CloseFunc: func() error {
			return nil
		},
	}
	trace := virteth.NewPCAPTrace(wc, virteth.MTUEthernet, virteth.PCAPTraceOptionBuffer(1))
	trace.Dump([]byte{0x00})
	trace.Dump([]byte{0x01})
	assert.Equal(t, uint64(1), trace.Dropped())
	close(gate)
	require.NoError(t, trace.Close())
}

func TestPCAPTraceFirstPacketWriteFails(t *testing.T) {
	writeErr := errors.New("mocked write error")
	closeErr := errors.New("mocked close error")
	var countWrites atomic.Uint32
	packetWrite := make(chan struct{})
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) {
			if countWrites.Add(1) == 1 {
				return len(b), nil
			}
			close(packetWrite)
			return 0, writeErr
		},
		CloseFunc: func() error {
			return closeErr
		},
	}

	trace := virteth.NewPCAPTrace(wc, virteth.MTUEthernet)
	trace.Dump([]byte{0x00})
	<-packetWrite

	err := trace.Close()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), writeErr.Error()))
	assert.True(t, errors.Is(err, closeErr))
}

func TestPCAPTraceWritesSnapshots(t *testing.T) {
	pb := &pcapBuffer{}
	trace := virteth.NewPCAPTrace(pb.writeCloser(), 4)
	trace.Dump([]byte{0x45, 0x00, 0x00, 0x08, 0xaa, 0xbb, 0xcc, 0xdd})
	trace.DumpFrame(virteth.NewFrame([]byte{0x60, 0x01}))
	require.NoError(t, trace.Close())
	assert.NoError(t, trace.Close())

	r := pb.reader(t)
	assert.Equal(t, layers.LinkTypeRaw, r.LinkType())
	assert.Equal(t, uint32(4), r.Snaplen())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x45, 0x00, 0x00, 0x08}, data)
	assert.Equal(t, 4, ci.CaptureLength)
	assert.Equal(t, 8, ci.Length)

	data, ci, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01}, data)
	assert.Equal(t, 2, ci.Length)

	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPCAPTraceAsInterfaceTap(t *testing.T) {
	pb := &pcapBuffer{}
	trace := virteth.NewPCAPTrace(pb.writeCloser(), virteth.MTUEthernet)

	ix := virteth.NewInterface(
		virteth.ReceiverFunc(func(*virteth.Frame) {}),
		virteth.InterfaceOptionTap(trace.DumpFrame),
	)
	ix.Start()
	for seq := range 3 {
		require.NoError(t, ix.Transmit(virteth.NewFrame(makePayload(64, byte(seq)))))
	}
	ix.Poll(virteth.DefaultBudget)
	ix.Stop()
	require.NoError(t, trace.Close())

	r := pb.reader(t)
	for seq := range 3 {
		data, _, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.Equal(t, makePayload(64, byte(seq)), data)
	}
}

package ctl

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFilter struct {
	packets, gated uint64
	converged      bool
	resetCalled    bool
}

func (f *fakeFilter) PacketCount() uint64 { return f.packets }
func (f *fakeFilter) GatedCount() uint64  { return f.gated }
func (f *fakeFilter) IsConverged() bool   { return f.converged }
func (f *fakeFilter) Reset()              { f.resetCalled = true }

func TestHandler_Status(t *testing.T) {
	f := &fakeFilter{packets: 10, gated: 3, converged: true}
	h := NewHandler(f)

	assert.Equal(t, "processed=10 gated=3 converged=true", h("status"))
}

func TestHandler_Reset(t *testing.T) {
	f := &fakeFilter{}
	h := NewHandler(f)

	assert.Equal(t, "ok", h("reset"))
	assert.True(t, f.resetCalled)
}

func TestHandler_UnknownCommand(t *testing.T) {
	h := NewHandler(&fakeFilter{})
	assert.Contains(t, h("frobnicate"), "unknown command")
}

func TestServerClient_RoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")
	f := &fakeFilter{packets: 1, converged: false}

	srv := NewServer(sock, NewHandler(f))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	client := NewClient(sock)
	resp, err := client.SendCommand("status")
	require.NoError(t, err)
	assert.Equal(t, "processed=1 gated=0 converged=false", resp)

	resp, err = client.SendCommand("reset")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.True(t, f.resetCalled)
}

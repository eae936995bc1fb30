package prober

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	details := domain.HostDetails{Host: "127.0.0.1", Port: port}
	require.NoError(t, New().Probe(ctx, details))

	require.NoError(t, listener.Close())
	assert.Error(t, New().Probe(ctx, details))
}

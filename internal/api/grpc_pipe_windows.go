//go:build windows

package api

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// pipeBufferSize буфер пайпа: transcribe несёт до 30 с PCM в base64
const pipeBufferSize = 1 << 20

func listenPipe(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, &winio.PipeConfig{
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	})
}

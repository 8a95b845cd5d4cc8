//go:build !windows

package api

import (
	"fmt"
	"net"
)

// listenPipe на unix недоступен: используйте unix:/path
func listenPipe(addr string) (net.Listener, error) {
	return nil, fmt.Errorf("named pipes are supported only on Windows (requested %s), use unix:/path", addr)
}

//go:build !linux

package server

import (
	"errors"
	"net"
)

func readTCPStats(*net.TCPConn) (tcpStats, error) {
	return tcpStats{}, errors.New("TCP_INFO not supported on this platform")
}

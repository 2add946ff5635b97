//go:build linux

package server

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// readTCPStats reads TCP_INFO from the socket behind conn.
func readTCPStats(conn *net.TCPConn) (tcpStats, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return tcpStats{}, fmt.Errorf("syscall conn: %w", err)
	}

	var info *unix.TCPInfo
	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil {
		return tcpStats{}, fmt.Errorf("control syscall: %w", err)
	}
	if sockErr != nil {
		return tcpStats{}, fmt.Errorf("getsockopt TCP_INFO: %w", sockErr)
	}
	if info == nil {
		return tcpStats{}, fmt.Errorf("getsockopt TCP_INFO: nil info")
	}

	segments := uint64(info.Data_segs_out)
	if segments == 0 {
		segments = uint64(info.Segs_out)
	}
	return tcpStats{
		Retransmits:  uint64(info.Total_retrans),
		SegmentsSent: segments,
		RTT:          time.Duration(info.Rtt) * time.Microsecond,
		RTTVar:       time.Duration(info.Rttvar) * time.Microsecond,
	}, nil
}

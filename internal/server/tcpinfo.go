package server

import "time"

// tcpStats is the subset of TCP_INFO logged when a download stream ends.
type tcpStats struct {
	Retransmits  uint64
	SegmentsSent uint64
	RTT          time.Duration
	RTTVar       time.Duration
}

//go:build !pcap
// +build !pcap

package source

import (
	"context"
	"fmt"
)

// ReplayPCAPFile is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler FrameHandler) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}

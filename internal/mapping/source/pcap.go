//go:build pcap
// +build pcap

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/submap.report/internal/monitoring"
)

// ReplayPCAPFile reads pointcloud packets from a capture file and delivers
// each decoded frame to the handler. Only UDP packets on udpPort are
// considered. Only available when building with the 'pcap' build tag.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler FrameHandler) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	frameCount := 0
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("source: replay stopped after %d packets", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("source: replay of %s complete: %d packets, %d frames in %v",
					pcapFile, packetCount, frameCount, time.Since(start))
				return nil
			}
			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			frame, err := ParsePacket(udpLayer.(*layers.UDP).Payload)
			if err != nil {
				continue
			}
			frameCount++
			if handler != nil {
				handler(frame)
			}
		}
	}
}

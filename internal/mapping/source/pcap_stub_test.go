//go:build !pcap
// +build !pcap

package source

import (
	"context"
	"strings"
	"testing"
)

func TestReplayPCAPFileStub(t *testing.T) {
	err := ReplayPCAPFile(context.Background(), "capture.pcap", 7502, nil)
	if err == nil {
		t.Fatal("stub should always return an error")
	}
	if !strings.Contains(err.Error(), "-tags=pcap") {
		t.Errorf("error should point at the build tag, got: %v", err)
	}
}

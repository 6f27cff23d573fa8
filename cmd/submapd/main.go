// Command submapd runs the submap server: it ingests pointcloud frames over
// UDP, integrates them into pose-anchored submaps, exchanges finished
// submaps with peers over gRPC, and serves a status/control HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/submap.report/internal/config"
	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/exchange"
	"github.com/banshee-data/submap.report/internal/mapping/integrate"
	"github.com/banshee-data/submap.report/internal/mapping/mesher"
	"github.com/banshee-data/submap.report/internal/mapping/server"
	"github.com/banshee-data/submap.report/internal/mapping/source"
	"github.com/banshee-data/submap.report/internal/mapping/submap"
	"github.com/banshee-data/submap.report/internal/mapping/timing"
)

var (
	configPath = flag.String("config", "", "Path to JSON server configuration (optional)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen = flag.String("grpc-listen", "", "gRPC exchange listen address (overrides config)")
	udpListen  = flag.String("udp-listen", "", "UDP pointcloud listen address (overrides config)")
	timingDir  = flag.String("timing-dir", "", "Directory for timing log files (overrides config)")
	pcapFile   = flag.String("pcap", "", "Replay pointcloud packets from a capture file instead of live UDP")
	pcapPort   = flag.Int("pcap-port", 7502, "UDP port filter for capture replay")
	loadPath   = flag.String("load", "", "Load a map archive on startup")
	verbose    = flag.Bool("verbose", false, "Log per-frame integration progress")
)

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		log.Printf("Loaded configuration from %s", *configPath)
	}
	httpAddr := override(*listen, cfg.GetHTTPListenAddr())
	grpcAddr := override(*grpcListen, cfg.GetGRPCListenAddr())
	udpAddr := override(*udpListen, cfg.GetUDPListenAddr())
	timingPath := override(*timingDir, cfg.GetTimingDir())

	meshMode, err := mesher.ParseMode(cfg.GetMeshMode())
	if err != nil {
		log.Fatalf("Invalid mesh mode: %v", err)
	}

	// Timing files are named by the session start; one recorder covers the
	// whole process lifetime.
	sessionStart := time.Now()
	var recorder *timing.Recorder
	if timingPath != "" {
		sink := timing.NewFileSink(timingPath, timing.SessionID(sessionStart))
		recorder = timing.NewRecorder(sink, timing.NewRegistry())
		log.Printf("Timing logs: %s and %s", sink.NetworkPath(), sink.ProcessPath())
	}

	publisher := exchange.NewPublisher(exchange.PublisherConfig{
		ListenAddr:  grpcAddr,
		ClientQueue: cfg.GetClientQueue(),
	})

	poses := mapping.NewPoseBuffer(cfg.GetTransformTolerance(), cfg.GetTransformMaxAge())
	sess := server.New(
		server.Config{
			WorldFrame:       cfg.GetWorldFrame(),
			MinFrameInterval: cfg.GetMinFrameInterval(),
			QueueBound:       cfg.GetQueueBound(),
			FramesPerSubmap:  cfg.GetFramesPerSubmap(),
			MeshExportPath:   cfg.GetMeshExportPath(),
			MeshMode:         meshMode,
			Verbose:          *verbose,
		},
		submap.LayerConfig{
			VoxelSize:          cfg.GetVoxelSize(),
			VoxelsPerSide:      cfg.GetVoxelsPerSide(),
			TruncationDistance: cfg.GetTruncationDistance(),
			MaxWeight:          cfg.GetMaxVoxelWeight(),
		},
		integrate.Config{
			MinRange: cfg.GetMinRange(),
			MaxRange: cfg.GetMaxRange(),
		},
		poses, publisher, recorder, nil)

	dispatcher := server.NewDispatcher(sess, cfg.GetMeshRefreshInterval())
	// Inbound submaps go through the dispatcher's single slot; a drop is
	// fine, the peer's next publish supersedes it.
	publisher.OnPush(func(data []byte) error {
		dispatcher.OfferSubmap(data)
		return nil
	})

	if *loadPath != "" {
		if !sess.LoadMap(*loadPath) {
			log.Fatalf("Failed to load map archive %s", *loadPath)
		}
	}

	if err := publisher.Start(); err != nil {
		log.Fatalf("Failed to start exchange publisher: %v", err)
	}
	defer publisher.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Dispatcher error: %v", err)
		}
	}()

	// Frame source: capture replay or live UDP.
	wg.Add(1)
	go func() {
		defer wg.Done()
		handler := func(f *mapping.PointcloudFrame) { dispatcher.OfferFrame(f) }
		if *pcapFile != "" {
			if err := source.ReplayPCAPFile(ctx, *pcapFile, *pcapPort, handler); err != nil && err != context.Canceled {
				log.Printf("Capture replay error: %v", err)
			}
			return
		}
		listener := source.NewUDPListener(source.UDPListenerConfig{
			Address: udpAddr,
			RcvBuf:  cfg.GetUDPRcvBuf(),
			Handler: handler,
		})
		if err := listener.Listen(ctx); err != nil && err != context.Canceled {
			log.Printf("UDP listener error: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: server.NewWebServer(sess, poses).ServeMux(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP API on %s", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	wg.Wait()
}

func override(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

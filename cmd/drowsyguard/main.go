package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/drowsyguard/internal/app"
	"github.com/ayusman/drowsyguard/internal/config"
	"github.com/ayusman/drowsyguard/internal/detector"
	"github.com/ayusman/drowsyguard/internal/metrics"
	"github.com/ayusman/drowsyguard/internal/plugin"
	"github.com/ayusman/drowsyguard/internal/server"
	"github.com/ayusman/drowsyguard/internal/store"
	"github.com/ayusman/drowsyguard/internal/tray"
)

func main() {
	envFile := flag.String("env", ".env", "Env file to read settings from")
	mode := flag.String("mode", "", "Run mode: local (camera) or server (WebSocket clients)")
	addr := flag.String("addr", "", "HTTP listen address")
	camera := flag.Int("camera", 0, "Camera device index")
	fps := flag.Int("fps", 0, "Frames per second to sample")
	noTray := flag.Bool("no-tray", false, "Run local mode without the system tray")
	flag.Parse()

	fmt.Println("DrowsyGuard - Drowsiness Detection")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line win over the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = config.Mode(*mode)
		case "addr":
			cfg.HTTPAddr = *addr
		case "camera":
			cfg.CameraID = *camera
		case "fps":
			cfg.FPS = *fps
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findDir(cfg.DataDir, "web")
	}
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	m := metrics.Default()

	switch cfg.Mode {
	case config.ModeServer:
		runServer(cfg, st, m, webDir)
	case config.ModeLocal:
		runLocal(cfg, st, m, webDir, !*noTray)
	}

	log.Println("Goodbye!")
}

// runServer serves remote clients until interrupted.
func runServer(cfg *config.Config, st *store.Store, m *metrics.Metrics, webDir string) {
	var d detector.Detector
	if mp, err := detector.NewMediaPipeDetector(detector.DefaultConfig()); err == nil {
		d = mp
		defer mp.Close()
		log.Println("Using MediaPipe face mesh detection for image frames")
	} else {
		log.Printf("MediaPipe not available (%v), accepting landmark messages only", err)
	}

	srv := server.New(server.Config{
		StaticDir:   webDir,
		Store:       st,
		Detector:    d,
		Detection:   cfg.Detection,
		MaxImageDim: cfg.MaxImageDim,
		Metrics:     m,
		Sink:        app.NewStoreSink(st, store.SourceRemote),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go serve(srv, cfg.HTTPAddr)

	<-done
	shutdown(srv)
}

// runLocal monitors the local camera. The HTTP server runs alongside for
// the dashboard. The tray, when shown, owns the main thread.
func runLocal(cfg *config.Config, st *store.Store, m *metrics.Metrics, webDir string, showTray bool) {
	a, err := app.New(app.Config{
		Detection: cfg.Detection,
		CameraID:  cfg.CameraID,
		FPS:       cfg.FPS,
	})
	if errors.Is(err, app.ErrNoDetector) {
		log.Fatalf("Cannot monitor without face detection (%v). Install the MediaPipe service or run with -mode server.", err)
	}
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}
	a.SetMetrics(m)

	pluginDir := cfg.PluginDir
	if _, err := os.Stat(pluginDir); err != nil {
		if found := findDir(cfg.DataDir, "plugins"); found != "" {
			pluginDir = found
		}
	}
	plugins := plugin.NewManager(pluginDir)
	if err := plugins.Discover(); err != nil {
		log.Printf("Failed to discover plugins: %v", err)
	}
	log.Printf("Loaded %d plugins from %s", len(plugins.List()), pluginDir)

	alerts := app.NewPluginSink(plugins, plugin.NewExecutor(cfg.PluginTimeout), cfg.AlertPlugin, cfg.AlertAction, nil)
	a.AddSink(app.NewStoreSink(st, store.SourceLocal))
	a.AddSink(alerts)

	var t *tray.Tray
	if showTray {
		t = tray.New()
		a.AddSink(app.NewTraySink(t))
	}

	srv := server.New(server.Config{
		StaticDir:   webDir,
		Store:       st,
		Detection:   cfg.Detection,
		MaxImageDim: cfg.MaxImageDim,
		Metrics:     m,
		Sink:        app.NewStoreSink(st, store.SourceRemote),
		Status:      a.Status,
	})
	go serve(srv, cfg.HTTPAddr)

	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start camera: %v", err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	if t == nil {
		<-done
	} else {
		t.OnToggle(a.SetEnabled)
		t.OnDashboard(func() { openBrowser(dashboardURL(cfg.HTTPAddr)) })
		go func() {
			<-done
			t.Quit()
		}()
		t.Run()
	}

	log.Println("Shutting down...")
	a.Stop()
	alerts.Wait()
	shutdown(srv)
}

func serve(srv *server.Server, addr string) {
	log.Printf("Starting server on %s", addr)
	if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}

func shutdown(srv *server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Println("Stopping HTTP server...")
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
}

func dashboardURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
		return
	}
	go cmd.Wait()
}

// findDir searches for a directory named name in common locations.
// It checks name, ../name, ../../name and then dataDir/name.
// Returns the first existing directory or empty string if none found.
func findDir(dataDir, name string) string {
	relativePaths := []string{name, filepath.Join("..", name), filepath.Join("..", "..", name)}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	candidate := filepath.Join(dataDir, name)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}

	return ""
}

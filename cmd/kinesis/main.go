package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/kinesis/internal/app"
	"github.com/ayusman/kinesis/internal/capture"
	"github.com/ayusman/kinesis/internal/config"
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/plugin"
	"github.com/ayusman/kinesis/internal/render"
	"github.com/ayusman/kinesis/internal/server"
	"github.com/ayusman/kinesis/internal/sink"
	"github.com/ayusman/kinesis/internal/store"
	"github.com/ayusman/kinesis/internal/tray"
)

// trayRefresh is how often the tray title follows the pipeline state.
const trayRefresh = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	cameraID := flag.Int("camera", -1, "camera device id (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	pluginDir := flag.String("plugins", "", "plugin directory (overrides config)")
	headless := flag.Bool("headless", false, "run without the system tray")
	noPacing := flag.Bool("no-pacing", false, "detect on every frame at the active frame rate")
	flag.Parse()

	fmt.Println("Kinesis - Gesture Control")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *cameraID >= 0 {
		cfg.CameraID = *cameraID
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *pluginDir != "" {
		cfg.PluginDir = *pluginDir
	}
	if *headless {
		cfg.Headless = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize the store
	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	seeded, err := st.Roles().EnsureDefaults(app.DefaultBindings(cfg.VolumePlugin))
	if err != nil {
		log.Fatalf("Failed to seed default roles: %v", err)
	}
	if seeded {
		log.Println("Created default volume and speed roles")
	}

	// Plugins back role sinks
	plugins := plugin.NewManager(cfg.PluginDir)
	if err := plugins.Discover(); err != nil {
		log.Printf("Plugin discovery failed: %v", err)
	}
	executor := plugin.NewExecutor(cfg.GetPluginTimeout())

	det := newDetector()
	camera := capture.NewCamera(capture.Options{DeviceID: cfg.CameraID, Mirror: true})

	hub := server.NewFeedbackHub()
	frames := server.NewFrameBuffer()

	application := app.New(app.Config{
		Camera:          camera,
		Detector:        det,
		Store:           st,
		Law:             cfg.Law(),
		Resolve:         newResolver(plugins, executor),
		MotionThreshold: cfg.MotionThreshold,
		Cooldown:        cfg.GetCooldownPeriod(),
		IdleFPS:         cfg.IdleFPS,
		ActiveFPS:       cfg.ActiveFPS,
		DisablePacing:   *noPacing,
		Overlay:         render.NewOverlay(render.DefaultPalette()),
		Publisher:       hub,
		Frames:          frames,
	})
	defer application.Close()

	enabled, err := st.Settings().Enabled()
	if err != nil {
		log.Printf("Failed to read enabled flag: %v", err)
		enabled = true
	}
	if !enabled {
		application.SetEnabled(false)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	webDir := findWebDir()
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:  webDir,
		Store:      st,
		State:      application,
		Hub:        hub,
		Frames:     frames,
		DefaultLaw: cfg.Law(),
		OnEnabled:  application.SetEnabled,
		OnChange:   application.Reload,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		fmt.Printf("Starting server on %s\n", cfg.Addr)
		if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
			log.Printf("Server failed: %v", err)
			stop()
		}
	}()

	if cfg.Headless {
		<-ctx.Done()
		log.Println("Shutting down")
		return
	}

	runTray(ctx, application, cfg.Addr)
	log.Println("Shutting down")
}

// newDetector prefers the MediaPipe service and falls back to a detector
// that never sees a hand, so the server stays usable without Python.
func newDetector() detector.Detector {
	det, err := detector.NewMediaPipeDetector(detector.DefaultConfig())
	if err != nil {
		log.Printf("MediaPipe unavailable (%v); hand detection disabled", err)
		return detector.NewMockDetector()
	}
	return det
}

// newResolver maps a role binding's sink name to a plugin. A missing or
// broken plugin falls back to an in-memory sink over the binding's range.
func newResolver(mgr *plugin.Manager, executor *plugin.Executor) app.SinkResolver {
	return func(b *store.RoleBinding) (control.Sink, error) {
		s, err := sink.NewPluginSink(mgr, executor, b.Sink, b.Name)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, plugin.ErrPluginNotFound) {
			log.Printf("Plugin %s unusable for role %s: %v", b.Sink, b.Name, err)
		} else {
			log.Printf("Plugin %s not installed; role %s drives an in-memory sink", b.Sink, b.Name)
		}
		return sink.NewMemory(b.OutLow, b.OutHigh), nil
	}
}

// runTray blocks in the tray loop until Quit or ctx is canceled.
func runTray(ctx context.Context, application *app.App, addr string) {
	t := tray.New()
	t.OnToggle(application.SetEnabled)
	t.OnSettings(func() { openBrowser(settingsURL(addr)) })

	go func() {
		ticker := time.NewTicker(trayRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				t.Quit()
				return
			case <-ticker.C:
				t.SetStatus(trayStatus(application.Snapshot()))
			}
		}
	}()

	t.Run()
}

func trayStatus(s app.Snapshot) tray.Status {
	status := tray.Status{Enabled: s.Enabled}
	for _, r := range s.Roles {
		status.Roles = append(status.Roles, tray.RoleStatus{
			Name:  r.Role,
			Level: r.Level,
			Gate:  string(r.Gate),
		})
	}
	return status
}

// settingsURL turns a listen address into a browsable URL.
func settingsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
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
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.kinesis/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, config.DataDirName, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

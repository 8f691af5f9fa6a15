package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/posecapture/internal/server"
	"github.com/ayusman/posecapture/internal/tray"
)

var (
	serveAddr string
	serveTray bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the capture API, live preview and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.host:server.port)")
	serveCmd.Flags().BoolVar(&serveTray, "tray", false, "show a system tray menu")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	rt, err := newRuntime(cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	} else if info, err := os.Stat(staticDir); err != nil || !info.IsDir() {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.WithField("dir", staticDir).Info("serving static files")
	}

	srv := server.New(server.Config{
		StaticDir:  staticDir,
		Store:      rt.store,
		Controller: rt.controller,
		Defaults:   cfg.Session(),
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.Addr()
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("starting server")
		errCh <- srv.ListenAndServe(addr)
	}()

	if serveTray {
		t := newTray(rt, "http://"+addr+"/")
		rt.controller.AddObserver(t)
		go func() {
			select {
			case <-ctx.Done():
			case <-errCh:
			}
			t.Quit()
		}()
		// systray needs the main goroutine.
		t.Run()
	} else {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newTray(rt *runtimeDeps, url string) *tray.Tray {
	t := tray.New()
	t.OnStart(func() {
		if _, err := rt.controller.Start(cfg.Session()); err != nil {
			log.WithError(err).Warn("failed to start session from tray")
		}
	})
	t.OnAbort(func() {
		if err := rt.controller.Abort(); err != nil {
			log.WithError(err).Debug("nothing to abort")
		}
	})
	t.OnPreview(func() {
		if err := openBrowser(url); err != nil {
			log.WithError(err).Warn("failed to open browser")
		}
	})
	return t
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches "web", "../web", "../../web" and ~/.posecapture/web and
// returns the first existing directory, or "".
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".posecapture", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"kexplorer/internal/cluster"
	"kexplorer/internal/config"
	"kexplorer/internal/edit"
	"kexplorer/internal/events"
	"kexplorer/internal/server"
	"kexplorer/internal/status"
	"kexplorer/internal/tree"
)

var version = "dev"

type options struct {
	configPath string
	kubeconfig string
	listen     string
	token      string
	open       bool
	verbosity  int
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "kexplorer",
		Short:         "Kubernetes cluster explorer with conflict-aware YAML editing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to config.yaml (default $HOME/.config/kexplorer/config.yaml)")
	f.StringVar(&opts.kubeconfig, "kubeconfig", "", "kubeconfig path (overrides config and KUBECONFIG)")
	f.StringVar(&opts.listen, "listen", "", "listen address (overrides config)")
	f.StringVar(&opts.token, "token", "", "API token, random when empty")
	f.BoolVar(&opts.open, "open", false, "open the browser")
	f.IntVarP(&opts.verbosity, "verbosity", "v", 0, "log verbosity")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	_ = fs.Set("v", strconv.Itoa(opts.verbosity))
	log := klog.NewKlogr()
	defer klog.Flush()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.kubeconfig != "" {
		cfg.Kubeconfig = opts.kubeconfig
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	mgr, err := cluster.NewManager(cfg.Kubeconfig, cluster.WithRequestTimeout(cfg.RequestTimeout))
	if err != nil {
		return fmt.Errorf("init cluster manager: %w", err)
	}

	bus := events.NewBus(events.WithLogger(log))
	defer bus.Close()

	checker := status.NewChecker(status.OperatorConfig{
		Namespace:  cfg.Operator.Namespace,
		ConfigMap:  cfg.Operator.ConfigMap,
		StaleAfter: cfg.Operator.StaleAfter,
	}, cfg.RequestTimeout)

	engine := tree.NewEngine(mgr, checker, bus, log,
		tree.WithRequestTimeout(cfg.RequestTimeout),
		tree.WithLayout(layoutFrom(cfg)),
	)

	client := edit.NewClusterClient(mgr, cfg.RequestTimeout)
	perms := edit.NewPermissionChecker(client, clock.RealClock{}, log)
	detector := edit.NewConflictDetector(client, bus, clock.RealClock{}, log)
	editors := edit.NewCoordinator(client, perms, detector, bus, log, edit.WithRefresher(engine))
	defer editors.CloseAll()
	engine.AddRefreshHook(perms.Clear)

	watcher := cluster.NewWatcher(mgr, log, engine.HandleReload)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Error(err, "kubeconfig watcher stopped")
		}
	}()

	poller := status.NewPoller(cfg.StatusRefreshInterval, clock.RealClock{}, log, engine.RecheckStatuses)
	go poller.Run(ctx)

	token := opts.token
	if token == "" {
		token = randomToken(24)
	}
	srv := server.New(engine, editors, mgr, bus, token, log)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://%s/?token=%s", cfg.Listen, token)
	log.Info("kexplorer listening", "addr", "http://"+cfg.Listen, "contexts", len(mgr.Contexts()))
	log.Info("open", "url", url)
	if opts.open {
		_ = openBrowser(url)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func layoutFrom(cfg *config.Config) tree.Layout {
	l := tree.Layout{ClusterOrder: cfg.ClusterOrder, Aliases: cfg.Aliases}
	for _, f := range cfg.Folders {
		l.Folders = append(l.Folders, tree.Folder{Name: f.Name, Contexts: f.Contexts})
	}
	return l
}

func randomToken(nbytes int) string {
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return nil
	}
	return cmd.Start()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

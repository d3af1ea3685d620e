package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sandboxpool/orchestrator/internal/execbridge"
	"github.com/sandboxpool/orchestrator/internal/httpapi"
	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/leader"
	"github.com/sandboxpool/orchestrator/internal/mcpbridge"
	"github.com/sandboxpool/orchestrator/internal/ondemand"
	"github.com/sandboxpool/orchestrator/internal/poolconfig"
	"github.com/sandboxpool/orchestrator/internal/poolengine"
	"github.com/sandboxpool/orchestrator/internal/terminalbridge"
	"github.com/sandboxpool/orchestrator/internal/tracing"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfg, err := poolconfig.Load()
	if err != nil {
		slog.Error("load pool config", "err", err)
		os.Exit(1)
	}

	port := getenv("PORT", "8080")
	localMode := os.Getenv("LOCAL_MODE") == "true"
	managerID := getenv("POOL_MANAGER_ID", leader.NewIdentity())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	shutdownTracing := tracing.Init("sandboxpool-orchestrator")
	defer shutdownTracing(context.Background())

	var cs kubernetes.Interface
	var restCfg *rest.Config

	if localMode {
		slog.Info("running in local mode — using kubeconfig if available")
		cs, restCfg = tryKubeconfig()
		if cs == nil {
			slog.Warn("no kubeconfig found, k8s operations disabled")
		}
	} else {
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			slog.Error("k8s in-cluster config", "err", err)
			os.Exit(1)
		}
		cs, err = kubernetes.NewForConfig(restCfg)
		if err != nil {
			slog.Error("k8s clientset", "err", err)
			os.Exit(1)
		}
	}

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "k8s unavailable", http.StatusServiceUnavailable)
	})

	if cs != nil {
		k8s := k8sclient.New(cs, restCfg)
		engine := poolengine.New(k8s, cfg, managerID)
		mcp := mcpbridge.New(k8s, cfg.Namespace)
		creator := ondemand.New(k8s, cfg, engine, mcp)
		exec := execbridge.New(k8s, cfg.Namespace)
		term := terminalbridge.New(k8s, cfg.Namespace)

		go engine.RunMonitor(ctx)
		go engine.RunCleanup(ctx)

		coord := leader.New(cs, cfg.Namespace, managerID, cfg.LeaseDuration)
		go coord.Run(ctx, engine.RunBackfill)

		handler = httpapi.New(engine, creator, mcp, exec, term, cfg.APIKeys).Router()
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}

	go func() {
		slog.Info("sandboxpool orchestrator listening", "port", port, "local_mode", localMode, "manager_id", managerID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func tryKubeconfig() (kubernetes.Interface, *rest.Config) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	cfg, err := clientcmd.BuildConfigFromFlags("", rules.GetDefaultFilename())
	if err != nil {
		return nil, nil
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil
	}
	return cs, cfg
}

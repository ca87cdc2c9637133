package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Jonatan852/querygrid/internal/config"
	"github.com/Jonatan852/querygrid/internal/storage"
	"github.com/Jonatan852/querygrid/internal/worker"
	"github.com/Jonatan852/querygrid/pkg/qglog"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Plano de dados do querygrid: executa estágios sobre partições locais",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadWorkerCfg(cfgPath); err != nil {
			return err
		}
		return run(config.WorkerConfig())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "caminho do arquivo de configuração YAML")
}

func run(cfg *config.WorkerCfg) error {
	qglog.UpdateZeroLogLevel(cfg.LogLevel)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = os.Getenv("QUERYGRID_WORKER_ID")
	}
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = hostname
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = guessEndpoint(cfg.HTTPAddr)
	}

	store := storage.NewStore()
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: worker.NewServer(workerID, store).Router(),
	}
	agent := worker.NewAgent(cfg.CoordinatorURL, workerID, endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qglog.Zero.Info().Str("worker", workerID).Str("addr", cfg.HTTPAddr).Msg("worker ouvindo")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return agent.Run(gctx)
	})
	g.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-stop:
			qglog.Zero.Info().Str("signal", sig.String()).Msg("encerrando worker")
			cancel()
		case <-gctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// guessEndpoint monta o endereço anunciado a partir do addr de escuta.
func guessEndpoint(addr string) string {
	if strings.HasPrefix(addr, ":") {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "localhost"
		}
		return fmt.Sprintf("http://%s%s", hostname, addr)
	}
	return "http://" + addr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		qglog.Zero.Error().Err(err).Msg("worker terminou com erro")
		os.Exit(1)
	}
}

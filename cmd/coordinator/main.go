package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jonatan852/querygrid/internal/api"
	"github.com/Jonatan852/querygrid/internal/config"
	"github.com/Jonatan852/querygrid/internal/history"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/internal/scheduler"
	"github.com/Jonatan852/querygrid/internal/service"
	"github.com/Jonatan852/querygrid/pkg/qglog"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Plano de controle do querygrid: registry de workers, planner e scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadCoordinatorCfg(cfgPath); err != nil {
			return err
		}
		return run(config.CoordinatorConfig())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "caminho do arquivo de configuração YAML")
}

func run(cfg *config.CoordinatorCfg) error {
	qglog.UpdateZeroLogLevel(cfg.LogLevel)

	reg := registry.New()
	defer reg.Close()

	var hist history.Store
	if len(cfg.EtcdEndpoints) > 0 {
		etcdStore, err := history.NewEtcdStore(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer etcdStore.Close()
		hist = etcdStore
	} else {
		hist = history.NewMemoryStore()
	}

	var opts []scheduler.Option
	if cfg.MaxPartitions > 0 {
		opts = append(opts, scheduler.WithMaxPartitions(cfg.MaxPartitions))
	}
	if cfg.StageTimeout > 0 {
		opts = append(opts, scheduler.WithStageTimeout(cfg.StageTimeout))
	}
	svc := service.New(reg, scheduler.NewHTTPDispatcher(), hist, opts...)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(reg, svc).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		qglog.Zero.Info().Str("addr", cfg.HTTPAddr).Msg("coordinator ouvindo")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		qglog.Zero.Info().Str("signal", sig.String()).Msg("encerrando coordinator")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		qglog.Zero.Error().Err(err).Msg("coordinator terminou com erro")
		os.Exit(1)
	}
}

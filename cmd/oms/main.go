package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-saga/internal/app"
	"github.com/vladislavdragonenkov/oms-saga/internal/version"
)

// parseFlags накладывает флаги командной строки поверх конфигурации из окружения.
func parseFlags(args []string, cfg app.Config, output io.Writer) (app.Config, bool, error) {
	fs := flag.NewFlagSet("oms", flag.ContinueOnError)
	fs.SetOutput(output)

	role := fs.String("role", string(cfg.Role), "service role: inventory|payment|orders|all")
	grpcAddr := fs.String("grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "HTTP metrics and health listen address (empty disables)")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}

	cfg.Role = app.Role(*role)
	cfg.GRPCAddr = *grpcAddr
	cfg.MetricsAddr = *metricsAddr
	return cfg, *showVersion, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}

	cfg, showVersion, err := parseFlags(os.Args[1:], cfg, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("некорректные флаги")
	}
	if showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"role":         cfg.Role,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"version":      version.Version(),
	}).Info("запускаем OMS")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OMS остановлен")
}

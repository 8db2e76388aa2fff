package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "YoloBench/Adhoc"
	"YoloBench/bank"
	"YoloBench/config"
	"YoloBench/engine"
	"YoloBench/engine/opencv"
	backend "YoloBench/gRPC"
	iface "YoloBench/interface"
	"YoloBench/logger"
	"YoloBench/monitor"
	"YoloBench/pipeline"
	"YoloBench/web"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// no packets are sent; dialing UDP only selects the outbound route
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()
	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "yolobench:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log()

	warnings, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	if cfg.LogMode != logger.ModeDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info(strings.Repeat("#", 64))
	log.Info("starting yolobench",
		zap.Int("cpuCores", runtime.NumCPU()),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("rpcPort", cfg.RPCPort),
		zap.Int("monitorPort", cfg.MonitorPort),
		zap.Int("workersNum", cfg.WorkersNum),
		zap.String("backend", cfg.InferenceBackend),
		zap.Bool("inferenceSizeSelector", cfg.UI.InferenceSize))
	if cfg.WorkersNum > runtime.NumCPU() {
		log.Warn("workersNum exceeds CPU cores, which may lead to performance degradation")
	}

	names, err := engine.LoadNames(cfg.Model.Names, cfg.Model.NamesFile)
	if err != nil {
		return err
	}
	if cfg.InferenceBackend == engine.BackendOnnxRuntime {
		if err := engine.InitOnnxRuntime(cfg.OnnxRuntimeLib); err != nil {
			return err
		}
		defer engine.DestroyOnnxRuntime()
	}
	manager := engine.NewManager(engine.WithFallback(opencv.Annotate))
	manager.Register(engine.BackendOpenCV, opencv.NewBackend)
	manager.Register(engine.BackendOnnxRuntime, engine.NewOrtBackend)
	defer manager.Close()
	detector, err := manager.Load(iface.EngineConfig{
		Backend:   cfg.InferenceBackend,
		ModelPath: cfg.Model.Path,
		Names:     names,
		InputSize: cfg.Model.InputSize,
		Iou:       cfg.Model.Iou,
		UseGPU:    cfg.Model.UseGPU,
	})
	if err != nil {
		return err
	}
	log.Info("Modelo cargado", zap.String("model", cfg.Model.Path))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup

	metrics := monitor.New()
	imageBank := bank.New(cfg.Bank.Dir)
	opts := pipeline.Options{SizeSelector: cfg.UI.InferenceSize, Metrics: metrics}
	if cfg.Bank.Watch {
		catalog, err := bank.NewCatalog(imageBank)
		if err != nil {
			return err
		}
		opts.List = catalog.Files
		wg.Add(1)
		go func() {
			defer wg.Done()
			catalog.Run(ctx)
		}()
	}
	pipe := pipeline.New(imageBank, detector, opts)

	if cfg.MonitorPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.StartMon(ctx, cfg.MonitorPort, metrics)
		}()
	}

	rpc := backend.NewServer(pipe, detector, metrics, cfg.UI.DefaultConfidence)
	rpc.StartWorker(cfg.WorkersNum)
	defer rpc.StopWorkers()
	if cfg.RPCPort > 0 {
		server, err := backend.StartGRPCServer(cfg.RPCPort, rpc)
		if err != nil {
			return err
		}
		defer server.GracefulStop()
	}

	if cfg.Registry.Enabled {
		ip, err := GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP", zap.Error(err))
		} else {
			log.Info("outbound IP", zap.String("ip", ip))
		}
		instanceClass := adhoc.CpuInstance
		if cfg.Model.UseGPU {
			instanceClass = adhoc.CudaInstance
		}
		reg := adhoc.RegServerConfig{Interval: time.Duration(cfg.Registry.IntervalSeconds) * time.Second}
		reg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
		hb := adhoc.NewHeartbeat(reg, adhoc.Instance{
			IP:            ip,
			Port:          cfg.HTTPPort,
			RPCPort:       cfg.RPCPort,
			Model:         cfg.Model.Path,
			Backend:       cfg.InferenceBackend,
			InstanceClass: instanceClass,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			hb.Run(ctx)
		}()
	} else {
		log.Info("registry disabled, skipping registration")
	}

	httpServer := web.New(pipe, web.Options{
		DefaultConfidence: cfg.UI.DefaultConfidence,
		Backend:           cfg.InferenceBackend,
		Metrics:           metrics,
	})
	err = httpServer.Run(ctx, cfg.HTTPPort)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("safely exited")
	return nil
}

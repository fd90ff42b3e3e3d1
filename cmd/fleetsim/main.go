package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/config"
	"github.com/campus-shuttle/fleetsim/internal/logging"
	intOtel "github.com/campus-shuttle/fleetsim/internal/otel"
	"github.com/campus-shuttle/fleetsim/internal/simulation"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// BuildDate and Version can be set at build time via ldflags
var (
	Version    string = "0.0.1"
	BuildDate  string = "unknown"
	BinaryName string = "fleetsim"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger is the zerolog logger used by the database, influx and dispatcher layers
	ZLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFilePath string
	LogFile     *os.File
	OTelLogFile *os.File

	SessionStartTime time.Time = time.Now()

	// closed in reverse order on shutdown
	logClosers []io.Closer

	// set once the engine exists, read by the log context provider
	activeEngine atomic.Pointer[simulation.Engine]
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "%s %s (built %s)\n\n", BinaryName, Version, BuildDate)
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  %s [flags] [serve]                 run the gateway, simulations and recorders\n", BinaryName)
	fmt.Fprintf(out, "  %s [flags] demo <SCENARIO>         run one scenario headless until it completes\n", BinaryName)
	fmt.Fprintf(out, "  %s [flags] gps <driverId> <busId>  share a real GPS receiver's position\n", BinaryName)
	fmt.Fprintf(out, "  %s [flags] track <busId>           follow one bus until it stops sharing\n\n", BinaryName)
	flag.PrintDefaults()
}

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	flag.Usage = usage
	flag.Parse()

	if err := run(*configDir, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configDir string, args []string) error {
	// defaults are applied even when the file is missing
	configErr := config.Load(configDir)

	if err := setupLogging(); err != nil {
		return err
	}
	defer shutdownLogging()

	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Info("Loaded config", "path", viper.ConfigFileUsed())
	}
	Logger.Info("Starting up", "version", Version, "buildDate", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "serve"
	if len(args) > 0 {
		mode = strings.ToLower(args[0])
		args = args[1:]
	}

	switch mode {
	case "serve":
		return runServe(ctx)
	case "demo":
		if len(args) != 1 {
			flag.Usage()
			return errors.New("demo needs exactly one scenario name")
		}
		return runDemo(ctx, strings.ToUpper(args[0]))
	case "gps":
		if len(args) != 2 {
			flag.Usage()
			return errors.New("gps needs a driver id and a bus id")
		}
		return runGPS(ctx, args[0], args[1])
	case "track":
		if len(args) != 1 {
			flag.Usage()
			return errors.New("track needs a bus id")
		}
		return runTrack(ctx, args[0])
	default:
		flag.Usage()
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func setupLogging() error {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	LogFilePath = logging.LogFilePath(logsDir, BinaryName, SessionStartTime)
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", LogFilePath, err)
	}
	logClosers = append(logClosers, LogFile)
	out := io.MultiWriter(os.Stdout, LogFile)
	level := viper.GetString("logLevel")

	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer
	if otelCfg.Enabled {
		otelPath := logging.LogFilePath(logsDir, BinaryName+".otel", SessionStartTime)
		OTelLogFile, err = os.OpenFile(otelPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open otel log file %s: %w", otelPath, err)
		}
		logClosers = append(logClosers, OTelLogFile)
		otelWriter = OTelLogFile
	}
	providerCfg := intOtel.FromConfig(otelCfg, otelWriter)
	providerCfg.ServiceVersion = Version
	OTelProvider, err = intOtel.New(providerCfg)
	if err != nil {
		return fmt.Errorf("failed to set up otel: %w", err)
	}

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGraylogHandler(gl.Address, level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "graylog disabled: %v\n", err)
		} else {
			extra = append(extra, h)
			logClosers = append(logClosers, closer)
		}
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{
		Output:   out,
		Level:    level,
		Provider: OTelProvider.LoggerProvider(),
		Extra:    extra,
		Context: func(context.Context) []slog.Attr {
			e := activeEngine.Load()
			if e == nil {
				return nil
			}
			return []slog.Attr{slog.Int("activeBuses", e.Count())}
		},
	})
	Logger = SlogManager.Logger()

	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	ZLogger = zerolog.New(out).Level(zlevel).With().Timestamp().Logger()

	config.Watch(func(newLevel string) {
		SlogManager.SetLevel(newLevel)
		Logger.Info("Log level changed", "level", newLevel)
	})
	return nil
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
	if err := OTelProvider.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to shut down otel: %v\n", err)
	}
	for i := len(logClosers) - 1; i >= 0; i-- {
		_ = logClosers[i].Close()
	}
}

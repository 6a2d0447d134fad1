package commands

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/fsd/internal/config"
	"github.com/marmos91/fsd/internal/eventlog"
	"github.com/marmos91/fsd/internal/logger"
	"github.com/marmos91/fsd/internal/metrics"
	"github.com/marmos91/fsd/internal/server"
	"github.com/marmos91/fsd/internal/session"
	"github.com/marmos91/fsd/internal/store"
)

var (
	flagSocket      string
	flagLogFile     string
	flagFilesMax    uint32
	flagStorageMax  string
	flagMaxConn     uint32
	flagWorkers     uint32
	flagLogLevel    string
	flagLogFormat   string
	flagMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file storage daemon",
	Long: `serve loads the configuration file (if given), layers FSD_-prefixed
environment variables and any explicit flags over it, and runs the service
until a SIGINT or SIGQUIT shutdown signal is handled. SIGHUP only stops new
connections from being accepted: existing sessions keep being served and
the process does not exit on SIGHUP alone.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagSocket, "socket", "", "listening socket path (overrides SOCKET_FILE_NAME)")
	serveCmd.Flags().StringVar(&flagLogFile, "log-file", "", "event log file path (overrides LOG_FILE_NAME)")
	serveCmd.Flags().Uint32Var(&flagFilesMax, "files-max", 0, "file-count capacity (overrides FILES_MAX_NUM)")
	serveCmd.Flags().StringVar(&flagStorageMax, "storage-max-size", "", "byte-count capacity, bytesize-parseable (overrides STORAGE_MAX_SIZE)")
	serveCmd.Flags().Uint32Var(&flagMaxConn, "max-conn", 0, "simultaneous connection cap (overrides MAX_CONN)")
	serveCmd.Flags().Uint32Var(&flagWorkers, "worker-threads", 0, "worker pool size (overrides WORKER_THREADS_NUM)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "INFO", "structured diagnostic log level: DEBUG, INFO, WARN, ERROR")
	serveCmd.Flags().StringVar(&flagLogFormat, "log-format", "text", "structured diagnostic log format: text, json")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	if err := logger.Init(logger.Config{Level: flagLogLevel, Format: flagLogFormat, Output: "stderr"}); err != nil {
		return err
	}

	logSink, err := eventlog.Open(cfg.LogFileName)
	if err != nil {
		return err
	}
	defer logSink.Close()

	st := store.New(int(cfg.FilesMaxNum), cfg.BytesCap())
	reg := session.NewRegistry(int(cfg.MaxConn))

	registerer := prometheus.NewRegistry()
	m := metrics.New(registerer)

	if flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", logger.Err(err))
			}
		}()
	}

	svc := server.NewService(cfg, st, reg, logSink, m)
	return server.Run(svc)
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("socket") {
		cfg.SocketFileName = flagSocket
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFileName = flagLogFile
	}
	if cmd.Flags().Changed("files-max") {
		cfg.FilesMaxNum = flagFilesMax
	}
	if cmd.Flags().Changed("storage-max-size") {
		if n, err := config.ParseStorageMaxSizeFlag(flagStorageMax); err == nil {
			cfg.StorageMaxSizeMB = n
		}
	}
	if cmd.Flags().Changed("max-conn") {
		cfg.MaxConn = flagMaxConn
	}
	if cmd.Flags().Changed("worker-threads") {
		cfg.WorkerThreadsNum = flagWorkers
	}
}

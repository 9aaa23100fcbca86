package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	apperrors "github.com/zfogg/emoine/pkg/errors"
	"github.com/zfogg/emoine/pkg/logger"
	"github.com/zfogg/emoine/pkg/metrics"
	"github.com/zfogg/emoine/pkg/output"
	"github.com/zfogg/emoine/pkg/websocket"
)

const stopTimeout = 5 * time.Second

var (
	connectMetricsAddr string
	connectCount       int
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open the stream and print its events",
	Long: `Open the shared connection and print every event until interrupted.
The connection is retried automatically when it drops.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		metrics.Initialize()
		if connectMetricsAddr != "" {
			go serveMetrics(ctx, connectMetricsAddr)
		}

		conn := getConnection(wsConfig())
		events, cancel := conn.Subscribe(256)
		defer cancel()

		output.PrintInfo("Connecting to %s", conn.URL())

		received := 0
		for {
			select {
			case <-ctx.Done():
				return closeConnection(conn, "client exiting")

			case ev, ok := <-events:
				if !ok {
					return apperrors.ConnectionError("Gave up reconnecting to "+conn.URL(),
						errors.New(conn.Stats().LastError))
				}
				if err := output.PrintEvent(ev); err != nil {
					return err
				}
				if ev.Type != websocket.EventMessage {
					continue
				}
				received++
				if connectCount > 0 && received >= connectCount {
					return closeConnection(conn, "done")
				}
			}
		}
	},
}

// closeConnection closes conn and waits for its last events to be delivered
func closeConnection(conn *websocket.Socket, reason string) error {
	if err := conn.Close(websocket.CloseNormalClosure, reason); err != nil {
		return err
	}
	select {
	case <-conn.Done():
	case <-time.After(stopTimeout):
		logger.Warn("Timed out waiting for the connection to close")
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	r := gin.New()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "error", err)
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
	connectCmd.Flags().StringVar(&connectMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	connectCmd.Flags().IntVarP(&connectCount, "count", "n", 0, "Exit after receiving this many messages (0 runs until interrupted)")
}

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zfogg/emoine/internal/devserver"
	"github.com/zfogg/emoine/internal/store"
	"github.com/zfogg/emoine/pkg/config"
	"github.com/zfogg/emoine/pkg/logger"
)

var (
	serveAddr  string
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local broadcast server at /api/ws",
	Long: `Run a development server that relays every frame it receives to all
connected clients. It also serves /health, /api/ws/stats and /metrics.

With --store, received frames are written to a SQLite file (or a postgres
DSN) and listed at /api/ws/frames.`,
	Example: `  emoine serve --addr :8080
  emoine serve --store frames.db
  emoine serve --store "postgres://emoine@localhost/emoine"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = config.GetString("server.addr")
		}
		dsn := serveStore
		if dsn == "" {
			dsn = config.GetString("server.store_dsn")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := devserver.New(addr)
		if dsn != "" {
			st, err := store.Open(dsn)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(); err != nil {
				return err
			}
			srv.Hub().SetRecorder(st)
			logger.Info("Recording frames to store")
		}

		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr, :80)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Record frames to a SQLite path or postgres DSN (default: server.store_dsn)")
}

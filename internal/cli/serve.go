package cli

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/lvcoi/dgetmusic/internal/web"
	"github.com/lvcoi/dgetmusic/internal/ws"
)

func newServeCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, job websocket and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := st.service()
			if err != nil {
				return err
			}
			server, err := web.NewServer(web.Options{
				Service:         svc,
				Hub:             ws.NewHub(st.log),
				Registry:        st.registry,
				MediaDir:        st.cfg.Transcode.OutputDir,
				HistorySize:     st.cfg.History.Size,
				ShutdownTimeout: st.cfg.Server.ShutdownTimeout,
				Logger:          st.log,
			})
			if err != nil {
				return err
			}
			if err := server.ListenAndServe(cmd.Context(), st.cfg.Server.Addr); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	lo.Must0(st.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")))
	return cmd
}

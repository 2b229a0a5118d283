package cmd

import (
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/deepresearch/server"
)

func newServeCmd() *cobra.Command {
	var httpAddr string
	var rpcAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve research runs over HTTP and JSON-RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(globalCfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			api := &server.APIServer{
				Runner: rt.Runner,
				Runs:   rt.Runs,
				Logger: rt.Logger,
			}
			rpc := &server.RPCServer{
				Runner:    rt.Runner,
				Runs:      rt.Runs,
				Telemetry: rt.Channel,
				Logger:    rt.Logger,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return api.ServeContext(ctx, httpAddr)
			})
			if rpcAddr != "" {
				lis, err := net.Listen("tcp", rpcAddr)
				if err != nil {
					return err
				}
				rt.Logger.Info("RPC listening", zap.String("addr", rpcAddr))
				g.Go(func() error {
					return rpc.Serve(ctx, lis)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&httpAddr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", ":8081", "JSON-RPC listen address (empty to disable)")
	return cmd
}

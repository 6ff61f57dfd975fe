package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "toneshift/internal/config"
	"toneshift/internal/server"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  `Serves POST /api/transform/tone, the stored file listing and download, /healthz and /metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if nonEmpty(addr) {
				cfg.Server.Addr = addr
			}
			eng, err := a.engine(cfg)
			if err != nil {
				return err
			}
			store, err := cfgpkg.Storage(cfg)
			if err != nil {
				return configFail("装配失败", err)
			}
			srv, err := server.New(eng, store, a.logger, nil)
			if err != nil {
				return configFail("装配失败", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = a.listenAndServe(ctx, cfg.Server.Addr, srv.Handler())
			a.finish("serve", err)
			if err != nil {
				return runtimeFail("服务异常退出", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（覆盖配置 server.addr，默认 :8080）")
	return cmd
}

// listenAndServe 阻塞至 ctx 结束后优雅关闭；监听失败立即返回。
func (a *app) listenAndServe(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	hs := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() { serverErrors <- hs.Serve(ln) }()
	fprintf(a.stderr, "[serve] listening on %s\n", ln.Addr())
	t := a.logger.StartWithKV("serve", "listen", "", "", map[string]string{"addr": ln.Addr().String()})
	defer t.Finish("shutdown", 0)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			_ = hs.Close()
			return err
		}
		<-serverErrors
		fprintf(a.stderr, "[serve] stopped\n")
		return nil
	}
}

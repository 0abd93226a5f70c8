package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"codebox-relay/internal/bridge"
	"codebox-relay/internal/web"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web gateway and keep the bridge client connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			client := bridge.NewClient(cfg.BridgeHost, cfg.BridgePort, cfg.ConnectTimeout())

			var asker web.Asker
			if cfg.Chat.APIKey != "" || cfg.Chat.BaseURL != "" {
				proc, closeChat, err := newChatProcessor(ctx, cfg)
				if err != nil {
					return err
				}
				defer closeChat()
				asker = proc
			} else {
				log.Printf("no API key configured, /api/chat disabled")
			}

			gw := web.NewServer(client, cfg.ClientAgentID, asker)
			client.OnMessage(gw.HandleBridgeMessage)
			go client.Run(ctx, cfg.ReconnectInterval())

			httpSrv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           gw.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Printf("web gateway listening on %s", cfg.HTTPAddr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("web gateway shutdown: %v", err)
			}
			client.Close()
			return nil
		},
	}
}

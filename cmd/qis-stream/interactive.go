package main

import (
	"context"

	"github.com/quarchtech/qis-go/cmd/qis-stream/interactive"
	"github.com/quarchtech/qis-go/pkg/config"
	"github.com/quarchtech/qis-go/pkg/qis"
)

// runInteractive hands the connection to the interactive prompt.
func runInteractive(ctx context.Context, client *qis.Client, conn *qis.Conn, cfg config.Config) error {
	session, err := interactive.New(client, conn, cfg)
	if err != nil {
		return err
	}
	return session.Run(ctx)
}

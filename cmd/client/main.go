package main

import (
	"context"
	"log"
	"os"

	"github.com/securechat-dev/securechat/internal/buildinfo"
	"github.com/securechat-dev/securechat/internal/client/cli"
	"github.com/securechat-dev/securechat/internal/client/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}

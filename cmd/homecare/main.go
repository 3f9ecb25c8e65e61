package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/logger"
	"github.com/smallbiznis/homecare/internal/server"
	"github.com/smallbiznis/homecare/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

package main

import (
	"github.com/narrativeiq/backend/internal/server"
	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/logger"
	"github.com/narrativeiq/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
	})
	logger.Init(consoleLogger)

	server.Init()
}

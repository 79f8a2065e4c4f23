package main

import (
	"os"

	"fleetrelay/cmd/relayd/cmd"
	"fleetrelay/internal/logging"
)

func main() {
	logging.InitFromEnv()
	if err := cmd.RootCmd().Execute(); err != nil {
		logging.L().Error("relayd", "err", err)
		os.Exit(1)
	}
}

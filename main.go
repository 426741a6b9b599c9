package main

import (
	"discovery-worker/cmd"
	"discovery-worker/logging"
)

func main() {
	logging.InitLogger("discovery-worker")
	cmd.Execute()
}

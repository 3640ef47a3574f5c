package main

import (
	"github.com/OFFIS-RIT/kgraph/internal/server"
	"github.com/OFFIS-RIT/kgraph/internal/setup"
	"github.com/OFFIS-RIT/kgraph/internal/util"
)

func main() {
	util.LoadEnv()
	setup.Logger()

	server.Init()
}

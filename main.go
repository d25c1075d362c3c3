package main

import (
	"fmt"
	"os"

	"github.com/VanDung-dev/OMEGA-Engine/api"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// Name of the engine.
const Name = "OMEGA-Engine"

func main() {
	fmt.Printf("%s v%s\n", Name, api.Version)
	fmt.Println("Frequency-addressed broadcast engine for the OMEGA protocol")
	fmt.Printf("Max payload: %d bytes per vector\n", core.MaxPayloadBytes)
	fmt.Println("Run cmd/omega-node for a network node, cmd/simple-node for an in-process demo")
	os.Exit(0)
}

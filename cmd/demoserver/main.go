// Command demoserver starts an emulated scan engine speaking the ZAP JSON API,
// so scanqueue can be exercised without a running ZAP.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/raysh454/scanqueue/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}
	if key := os.Getenv("DEMO_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	fmt.Println("===========================================")
	fmt.Println("   scanqueue demo engine")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Every accessed host gets a synthetic page tree and a")
	fmt.Println("fixed alert catalog (xss, sql injection, csrf, headers).")
	fmt.Println("Point SCANQUEUE_ENGINE_BASE_URL at this server.")
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yothgewalt/discount-card-portal-server/internal/bootstrap"
	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/internal/container"
	"github.com/yothgewalt/discount-card-portal-server/package/log"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "--health" {
		performHealthCheck()
		return
	}

	if err := bootstrap.Run(&container.Options{}); err != nil {
		logger := log.New()
		logger.Fatal().Err(err).Msg("Server failed to start")
	}
}

func performHealthCheck() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Health check failed: %v\n", err)
		os.Exit(1)
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	healthURL := fmt.Sprintf("http://%s:%s/health", host, cfg.Server.Port)

	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	resp, err := client.Get(healthURL)
	if err != nil {
		fmt.Printf("Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Health check failed with status: %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("Health check passed")
}

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bchewy/canyoubeatgroq/internal/config"
	"github.com/bchewy/canyoubeatgroq/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

func loadConfig() (server.Config, error) {
	var c server.Config

	p := os.Getenv("CONFIG_PATH")
	if p == "" {
		p = "config.yaml"
	}

	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	// Secrets come from the environment under their conventional names and
	// win over anything in the file.
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Solver.GroqAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Solver.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Solver.GeminiAPIKey = v
	}
	if v := os.Getenv("ROUND_SECRET"); v != "" {
		c.Round.Secret = v
	}

	return c, nil
}

package main

import (
	"flag"
	"log"
	"os"

	"whalewatch/internal/app"
	"whalewatch/internal/config"
)

func main() {
	mode := flag.String("mode", app.ModeContinuous, "run mode: continuous|once|digest")
	flag.Parse()

	cfgPath := os.Getenv("CONFIG")
	if cfgPath == "" {
		cfgPath = "cmd/monitor/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed load config, error=%v", err)
	}

	if err = app.Run(cfg, *mode); err != nil {
		log.Fatalf("App run is failed, error=%v", err)
	}
}

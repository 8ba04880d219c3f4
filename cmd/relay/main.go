package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/caarlos0/env/v11"

	"netplay/transport/ws"
)

type config struct {
	Addr string `env:"NETPLAY_RELAY_ADDR" envDefault:":8080"`
	Path string `env:"NETPLAY_RELAY_PATH" envDefault:"/ws"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse environment: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "relay ", log.LstdFlags)
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, ws.NewRelay(logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logger.Printf("listening on %s%s", cfg.Addr, cfg.Path)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Fatalf("%v", err)
	}
}

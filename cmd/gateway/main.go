// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/gasmesh/gateway/internal/config"
	"github.com/gasmesh/gateway/internal/gateway"
	"github.com/gasmesh/gateway/pkg/log"
)

var (
	flagConfigFile  string
	flagEnvFile     string
	flagLogLevel    string
	flagLogDateTime bool
	flagVersion     bool
)

// version is overridden at build time via -ldflags.
var version = "dev"

func cliInit() {
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the gateway's `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Path to an optional `.env` file of secrets (broker credentials)")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Sets the logging level: `[debug, info, warn, err, crit]`")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Add date and time to log messages")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.Parse()
}

func main() {
	cliInit()

	if flagVersion {
		log.Printf("gasmesh-gateway version %s", version)
		return
	}

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	cfg, err := config.Load(flagConfigFile, flagEnvFile)
	if err != nil {
		log.Fatalf("loading configuration: %s", err.Error())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("constructing gateway: %s", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("gasmesh-gateway starting, %d link(s) configured", len(cfg.Links))
	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway exited: %s", err.Error())
	}
	log.Print("gasmesh-gateway shut down cleanly")
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ClusterCockpit/microredis-go/config"
	"github.com/ClusterCockpit/microredis-go/log"
	"github.com/ClusterCockpit/microredis-go/server"
)

var version string = "development"

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("microredis-go version %s\n", version)
		os.Exit(0)
	}

	log.SetLevel(flagLogLevel)
	config.Init(flagConfigFile)

	if flagLoadFrom != "" {
		config.Keys.Dir = flagLoadFrom
	}

	srv := server.New(config.Keys)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("received shutdown signal, draining connections...")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server: %s", err.Error())
	}
}

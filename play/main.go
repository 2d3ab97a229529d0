package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"reactorhttp"
	"syscall"

	"github.com/sirupsen/logrus"
)

const (
	helpTextPort    = `Specifies the port number that the server will listen and serve at.`
	helpTextVerbose = `Prints debugging messages.`
)

func main() {
	port := flag.Int("p", reactorhttp.DefaultPort, helpTextPort)
	verbose := flag.Bool("v", false, helpTextVerbose)
	flag.Parse()

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	config := reactorhttp.DefaultConfig()
	config.Port = *port
	config.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := reactorhttp.NewServer(config)
	if err := s.ListenAndServe(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

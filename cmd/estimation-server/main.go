package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"surveykit/internal/app"
	"surveykit/pkg/contracts"
)

func main() {
	configPath := flag.String("config", "", "path to config file (overrides SVY_CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetVersionString())
		return
	}

	if *configPath != "" {
		os.Setenv("SVY_CONFIG_FILE", *configPath)
	}

	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

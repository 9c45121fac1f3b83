package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"

	"github.com/ionex/idverify/cmd"
	"github.com/ionex/idverify/internal/utils"
)

func main() {
	// .env is optional; the environment and config file cover deployments.
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			utils.ExitOnError("Error loading .env file", err)
		}
		slog.Debug("No .env file found")
	}

	if err := fang.Execute(context.Background(), cmd.RootCmd); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	stdos "os"

	"github.com/stagegate/stagegate/internal/logging"
	"github.com/stagegate/stagegate/internal/os"
)

func main() {
	ctx, cancel := os.ShutdownContext(context.Background())
	defer cancel()
	if err := Execute(ctx); err != nil {
		logging.LoggerFromContext(ctx).Error(err, "")
		stdos.Exit(1)
	}
}

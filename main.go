// gostream sends files to a peer as a stream session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gostream/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gostream: %v\n", err)
		os.Exit(1)
	}
}

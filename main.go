package main

import (
	"context"
	"fmt"
	"os"

	"chat-sync/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "chat-sync:", err)
		os.Exit(1)
	}
}

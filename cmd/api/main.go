package main

import (
	"fmt"
	"os"

	"github.com/voyagepay/settlement-engine/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "settlement-engine:", err)
		os.Exit(1)
	}
}

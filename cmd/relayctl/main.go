package main

import (
	"os"

	"github.com/sandeepkv93/clinic-survey-relay/internal/tools/relayctl"
)

func main() {
	if err := relayctl.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

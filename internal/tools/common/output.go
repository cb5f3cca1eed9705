package common

import (
	"encoding/json"
	"fmt"
	"os"
)

type ciResult struct {
	OK      bool     `json:"ok"`
	Command string   `json:"command"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one JSON line for machine consumers.
func PrintCIResult(ok bool, command string, details []string, err error) {
	res := ciResult{OK: ok, Command: command, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	raw, marshalErr := json.Marshal(res)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", marshalErr)
		return
	}
	fmt.Fprintln(os.Stdout, string(raw))
}

// Command relaygate is the multi-provider LLM inference gateway. All
// behavior lives in cmd/ and internal/; this file only hands off to the
// cobra command tree, the same split the teacher's cmd/ package implies but
// never wires up from its own root main.go.
package main

import "github.com/relaygate/relaygate/cmd"

func main() {
	cmd.Execute()
}

// Command pphctl is a thin demonstration CLI over the pph engine: it
// wires a store backend, the hasher, and three engine subcommands
// (encode, verify, status) plus version. It is not a production admin
// surface;
// multi-operator administration, rekeying ceremonies, and fleet
// management live outside this repository.
package main

import "pph/cmd/pphctl/cmd"

func main() {
	cmd.Execute()
}

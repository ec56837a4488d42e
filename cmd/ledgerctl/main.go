// Command ledgerctl administers an issuance ledger through its HTTP API.
package main

import "github.com/R3E-Network/issuance_ledger/cmd/ledgerctl/cmd"

func main() {
	cmd.Execute()
}

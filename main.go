package main

import "perishable-ledger/cmd"

func main() {
	cmd.Execute()
}

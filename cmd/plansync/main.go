package main

import "github.com/javi11/plansync/cmd/plansync/cmd"

func main() {
	cmd.Execute()
}

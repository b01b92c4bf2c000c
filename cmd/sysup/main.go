package main

import "github.com/nxkit/sysup/cmd/sysup/cmd"

func main() {
	cmd.Execute()
}

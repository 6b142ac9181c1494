package main

import "github.com/CloudNativeWorks/cnw-licensekey/internal/cli"

func main() {
	cli.Execute()
}

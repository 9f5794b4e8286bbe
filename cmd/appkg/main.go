package main

import "github.com/oshokin/appkg/cmd/appkg/cmd"

func main() {
	cmd.Execute()
}

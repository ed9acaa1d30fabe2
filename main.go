package main

import "github.com/EdmarFn/metamask-buddy-challenge/cmd"

func main() {
	cmd.Execute()
}

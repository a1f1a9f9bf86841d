package main

import "lakedeploy/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/jmehdipour/cvpay/cmd"

func main() {
	cmd.Execute()
}

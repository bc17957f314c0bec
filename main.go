// Command contestguard reconciles self-reported contest participation
// against public submission history.
package main

import "github.com/papapumpkin/contestguard/cmd"

func main() {
	cmd.Execute()
}

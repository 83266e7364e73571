// The main package for the instafix executable.
package main

import "github.com/JakeFAU/instafix/cmd"

func main() {
	cmd.Execute()
}

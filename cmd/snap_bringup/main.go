package main

import "github.com/GReX-Telescope/snap_bringup/cmd/snap_bringup/cmd"

func main() {
	cmd.Execute()
}

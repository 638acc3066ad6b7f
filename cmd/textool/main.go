// textool inspects, converts and packages textures for the texpipe loader.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "info":
		err = cmdInfo(args)
	case "pack":
		err = cmdPack(args)
	case "dump":
		err = cmdDump(args)
	case "grf":
		err = cmdGRF(args)
	case "config":
		err = cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`textool - texture pipeline utility

Usage:
  textool <command> [options]

Commands:
  info [-root dir] [-grf file.grf] <name>...   Load textures and print what the GPU would get
  pack [-mips] [-c lz4] <input> <out.ktex>     Convert a texture to KTEX
  dump [-layer n] [-mip n] <input> <out.webp>  Export one surface as lossless WebP
  grf list <file.grf> [pattern]                List archive entries
  grf extract <file.grf> <path> [output]       Extract entries (glob patterns allowed)
  grf pack <out.grf> <dir>                     Build an archive from a directory
  config init [-o file] [-f]                   Write the default texview config
  config show                                  Print the effective texview config

Examples:
  textool info -root data texture/wall.png texture/floor
  textool pack -mips -c lz4 wall.png wall.ktex
  textool dump -mip 2 wall.ktex wall_mip2.webp
  textool grf pack textures.grf ./data`)
}

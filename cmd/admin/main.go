// Command admin inspects a running server over its admin HTTP endpoint and reads the chunk
// database offline.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "state":
		stateCmd(os.Args[2:])
	case "players":
		playersCmd(os.Args[2:])
	case "chunks":
		chunksCmd(os.Args[2:])
	case "chunk":
		chunkCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

  state    print /admin/v1/state of a running server
  players  list connected players of a running server
  chunks   list chunks stored in a chunk db
  chunk    print the block histogram of one stored chunk`)
}

// Command fsclient is a minimal, undocumented exerciser for the file
// storage daemon's wire protocol — useful for manual testing against a
// running fsd, not a supported client library.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/marmos91/fsd/internal/wire"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: fsclient <socket> <CMD> [ARG] [DATA]")
		os.Exit(1)
	}

	socketPath := os.Args[1]
	cmd := wire.Command(os.Args[2])
	var arg string
	var data []byte
	if len(os.Args) > 3 {
		arg = os.Args[3]
	}
	if len(os.Args) > 4 {
		data = []byte(os.Args[4])
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	reader := wire.NewFrameReader(conn)

	greeting, err := reader.ReadResponse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "greeting:", err)
		os.Exit(1)
	}
	fmt.Printf("< %d %s\n", greeting.Code, greeting.Descr)

	frame, err := wire.EmitRequest(cmd, arg, data)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	if _, err := conn.Write(frame); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}

	resp, err := reader.ReadResponse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "response:", err)
		os.Exit(1)
	}
	fmt.Printf("< %d %s (%d bytes)\n", resp.Code, resp.Descr, len(resp.Data))
	if len(resp.Data) > 0 {
		os.Stdout.Write(resp.Data)
		fmt.Println()
	}
}

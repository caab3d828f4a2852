package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/bitdabbler/gelfpipe"
)

func init() {
	log.SetFlags(0) // No timestamp prefix
	log.SetPrefix("gelfpipe: ")
}

func main() {
	err := run(context.Background(), os.Args[1:], os.Getenv, stdio{
		In:  stdin(),
		Out: os.Stdout,
		Err: os.Stderr,
	})
	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, gelfpipe.ErrConfiguration):
		log.Print(err)
		os.Exit(2)
	default:
		log.Print(err)
		os.Exit(1)
	}
}

// stdin returns nil when standard input is not open, which is how a body
// that was never provided differs from an empty one.
func stdin() io.Reader {
	if _, err := os.Stdin.Stat(); err != nil {
		return nil
	}
	return os.Stdin
}

package main

import (
	"flag"
	"log"

	"github.com/tmpim/tricolor/server"
)

var (
	addr      = flag.String("addr", ":9999", "address to listen on")
	bodyLimit = flag.String("limit", "16M", "maximum image size")
	workers   = flag.Int("j", 0, "row bands packed concurrently per image (0 = one per CPU)")
	quiet     = flag.Bool("q", false, "disable request logging")
)

func main() {
	flag.Parse()

	e, err := server.New(server.Options{
		BodyLimit: *bodyLimit,
		Workers:   *workers,
		Quiet:     *quiet,
	})
	if err != nil {
		log.Fatal(err)
	}

	log.Println("tricolor server: listening on", *addr)
	log.Fatal(e.Start(*addr))
}

package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	method, _ := os.LookupEnv("REQUEST_METHOD")
	qs, _ := os.LookupEnv("QUERY_STRING")
	if method == "POST" {
		body, _ := io.ReadAll(os.Stdin)
		fmt.Fprintf(os.Stdout, "Status: 200 OK\nContent-Type: text/plain\n\n%s", body)
		os.Exit(0)
	}
	b := "method was: " + method
	if qs != "" {
		b += "\n" + "query string: " + qs
	}

	fmt.Fprintf(os.Stdout, "Status: 200\nContent-Type: text/plain\n\n%s", b)
	os.Exit(0)
}

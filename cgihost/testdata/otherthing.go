package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	qs, _ := os.LookupEnv("QUERY_STRING")
	if strings.Contains(qs, "error=1") {
		fmt.Fprintln(os.Stderr, "failing on purpose")
		os.Exit(1)
	}
	if strings.Contains(qs, "sleep=1") {
		time.Sleep(5 * time.Second)
	}
	if strings.Contains(qs, "noheader=1") {
		os.Exit(0)
	}
	if strings.Contains(qs, "garbage=1") {
		fmt.Fprint(os.Stdout, "not a header\n\n")
		os.Exit(0)
	}
	if strings.Contains(qs, "status=") {
		sts := strings.Split(qs, "=")[1]
		fmt.Fprint(os.Stdout, "Status: "+sts+"\n")
	}
	fmt.Fprint(os.Stdout, "Content-Type: text/plain\n\n")
}

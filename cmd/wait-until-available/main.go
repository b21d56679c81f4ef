package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

// CLI are the command line flags of the wait tool.
type CLI struct {
	URL      string        `help:"Health endpoint to poll." default:"http://localhost:8080/healthz"`
	Interval time.Duration `help:"Pause between two attempts." default:"5s"`
	Timeout  time.Duration `help:"Give up after this duration, 0 waits forever." default:"0s"`
}

// Blocks until the phonebook service reports to be healthy.
func main() {
	var cli CLI
	kong.Parse(&cli, kong.Description("Waits until the phonebook service is available."))

	start := time.Now()
	client := &http.Client{Timeout: cli.Interval}
	for {
		res, err := client.Get(cli.URL)
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				fmt.Println(res.Status)
				return
			}
			fmt.Println(res.Status)
		} else {
			fmt.Println(err)
		}
		waited := time.Since(start)
		if cli.Timeout > 0 && waited >= cli.Timeout {
			fmt.Printf("Service not available after %s\n", waited.Round(time.Second))
			os.Exit(1)
		}
		fmt.Printf("Waiting %s\n", waited.Round(time.Second))
		time.Sleep(cli.Interval)
	}
}

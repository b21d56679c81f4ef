package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/alecthomas/kong"

	"gitlab.com/dirk.krummacker/phonebook-service/pkg/model"
)

// CLI are the command line flags of the load test client.
type CLI struct {
	URL   string `help:"Base URL of the phonebook service." default:"http://localhost:8080"`
	Sizes []int  `help:"Number of contacts per round." default:"1000,5000,10000,50000"`
	Base  int64  `help:"First phone number used by the client." default:"49000000000"`
}

// Usage example on the command line:
// > go run main.go --sizes=100,1000
//
// Prints the mean duration in microseconds of each request type per round.
func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.Description("Measures the response times of the phonebook service."))

	fmt.Println()
	fmt.Println("  Elements      POST       PUT    SEARCH    DELETE ")
	fmt.Println("---------------------------------------------------")
	for _, loops := range cli.Sizes {
		if loops < 1 {
			kctx.Fatalf("sizes must be positive, got %d", loops)
		}
		phones := phoneNumbers(cli.Base, loops)
		fmt.Printf("%10d", loops)
		{
			// POST requests
			var duration int64
			for _, phone := range phones {
				body := mustMarshal(model.Contact{
					FirstName:   ptr("Marcus"),
					LastName:    ptr("Antonius"),
					PhoneNumber: ptr(phone),
					Address:     ptr("Forum Romanum"),
				})
				_, d := sendRequest(http.MethodPost, cli.URL+"/contacts/", bytes.NewReader(body))
				duration += d
			}
			fmt.Printf("%10d", duration/int64(loops*1000))
		}
		{
			// PUT requests
			body := mustMarshal(model.Contact{Address: ptr("Via Appia")})
			callInLoop(phones, func(phone string) int64 {
				_, d := sendRequest(http.MethodPut, cli.URL+"/contacts/"+phone, bytes.NewReader(body))
				return d
			})
		}
		{
			// GET requests
			callInLoop(phones, func(phone string) int64 {
				query := url.Values{"phone_number": {phone}}
				_, d := sendRequest(http.MethodGet, cli.URL+"/contacts/search?"+query.Encode(), nil)
				return d
			})
		}
		{
			// DELETE requests
			callInLoop(phones, func(phone string) int64 {
				_, d := sendRequest(http.MethodDelete, cli.URL+"/contacts/"+phone, nil)
				return d
			})
		}
		fmt.Println()
	}
}

func callInLoop(phones []string, f func(phone string) int64) {
	shuffled := make([]string, len(phones))
	copy(shuffled, phones)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	var duration int64
	for _, phone := range shuffled {
		duration += f(phone)
	}
	fmt.Printf("%10d", duration/int64(len(phones)*1000))
}

func phoneNumbers(base int64, loops int) []string {
	phones := make([]string, 0, loops)
	for i := 0; i < loops; i++ {
		phones = append(phones, fmt.Sprintf("%d", base+int64(i)))
	}
	return phones
}

func ptr(s string) *string {
	return &s
}

func mustMarshal(contact model.Contact) []byte {
	body, err := json.Marshal(contact)
	if err != nil {
		panic(err)
	}
	return body
}

func sendRequest(method string, requestURL string, bodyReader io.Reader) ([]byte, int64) {
	req, err := http.NewRequest(method, requestURL, bodyReader)
	if err != nil {
		fmt.Println("could not create request", err)
		panic(err)
	}
	req.Header.Set("Content-Type", "application/json")
	before := time.Now().UnixNano()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("error making http request", err)
		panic(err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Println("could not read response body", err)
		panic(err)
	}
	after := time.Now().UnixNano()
	if res.StatusCode != http.StatusOK {
		var body model.ErrorBody
		_ = json.Unmarshal(resBody, &body)
		fmt.Printf("\n%s %s answered %d: %s\n", method, requestURL, res.StatusCode, body.Message)
	}
	return resBody, after - before
}

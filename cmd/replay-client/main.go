package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"replay-orchestration/internal/client"

	"github.com/sirupsen/logrus"
)

type options struct {
	host          string
	port          int
	maxTries      int
	operation     string
	endBlockNum   string
	integrityHash string
	springVersion string
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	endBlock, err := strconv.ParseUint(opts.endBlockNum, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: end-block-num must be an unsigned integer: %s\n", opts.endBlockNum)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://%s:%d", opts.host, opts.port)

	// end block plus version identify the slice; the version disambiguates
	// block ranges replayed with several node releases.
	res, err := client.New().ReportEndBlock(context.Background(), url, opts.maxTries, endBlock, opts.integrityHash, opts.springVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config %s failed: %v\n", opts.operation, err)
		os.Exit(1)
	}

	fmt.Println(describe(opts.operation, res.StatusCode))
	if res.StatusCode != 200 {
		os.Exit(1)
	}
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("replay-client", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.host, "host", "127.0.0.1", "Listening service name or ip")
	fs.IntVar(&opts.port, "port", 4000, "Port for web service")
	fs.IntVar(&opts.maxTries, "max-tries", 10, "Number of attempts when HTTP call fails")
	fs.StringVar(&opts.operation, "operation", "update", "Command to execute, only update is supported")
	fs.StringVar(&opts.endBlockNum, "end-block-num", "", "Last block processed")
	fs.StringVar(&opts.integrityHash, "integrity-hash", "", "Integrity hash reported after processing completed")
	fs.StringVar(&opts.springVersion, "spring-version", "", "Node software version of the replay")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.operation != "update" {
		return opts, fmt.Errorf("invalid operation: %s", opts.operation)
	}
	if opts.integrityHash == "" || opts.endBlockNum == "" {
		return opts, fmt.Errorf("must specify integrity hash and end block num with update operation")
	}
	if opts.maxTries < 1 {
		return opts, fmt.Errorf("max-tries must be greater than zero")
	}
	return opts, nil
}

// describe turns the final status code into the line printed for operators.
func describe(op string, code int) string {
	switch {
	case code == 200:
		return fmt.Sprintf("Config Operation %s Succeeded", op)
	case code > 200 && code < 300:
		return fmt.Sprintf("Config %s Succeeded. Unexpected status, %d", op, code)
	case code >= 300 && code < 400:
		return fmt.Sprintf("Config %s Failed. Unexpected redirection, %d, not handled", op, code)
	case code == 404:
		return fmt.Sprintf("Config %s Failed with %d, configuration not found. Did you try to reference a config that does not exist?", op, code)
	case code >= 400:
		return fmt.Sprintf("Config %s Failed with %d", op, code)
	default:
		return fmt.Sprintf("Config %s Failed, no response from service", op)
	}
}

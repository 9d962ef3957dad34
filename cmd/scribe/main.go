// Command scribe runs a single documentation crawl job to completion,
// printing its event stream to stdout as newline-delimited JSON.
package main

import (
	"github.com/doctree/scribe/internal/cli"
)

func main() {
	cli.Execute()
}

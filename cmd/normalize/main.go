// Command normalize reads text on stdin, runs the cleanup pipeline and
// writes the result to stdout. Stage statistics go to stderr.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/packsmith/backend/internal/textpipe"
)

func main() {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		os.Exit(1)
	}

	result := textpipe.NewDefaultRegistry().Pipeline().Run(string(data))
	fmt.Print(result.Text)

	keys := make([]string, 0, len(result.Stats))
	for k := range result.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "%s: %d\n", k, result.Stats[k])
	}
}

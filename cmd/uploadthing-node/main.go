// uploadthing-node runs the UploadThing workflow node, either once from the
// command line or as a NATS JetStream worker.
//
// Usage:
//
//	uploadthing-node run --params '{"operation":"uploadFromUrl","url":"https://example.com/a.png"}'
//	uploadthing-node run --items items.json --params-file params.json
//	uploadthing-node worker --config uploadthing-node.yaml
//	uploadthing-node describe [--validate params.json]
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

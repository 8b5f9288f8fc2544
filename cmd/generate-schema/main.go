// Command generate-schema writes the JSON schema of the configuration file.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittoloaders/pkg/config"
)

var durationType = reflect.TypeOf(time.Duration(0))

// newReflector reflects the config structs the way viper decodes them:
// keys come from mapstructure tags and durations are strings.
func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		FieldNameTag:              "mapstructure",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
					Description: "Go duration, e.g. 250ms or 1h30m",
				}
			}
			return nil
		},
	}
}

func generate(w io.Writer) error {
	schema := newReflector().Reflect(&config.Config{})
	schema.Title = "dittoloaders configuration"
	schema.Description = "Configuration file of the dittoloaders engine and CLI"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}

func main() {
	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	f, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating schema file: %v\n", err)
		os.Exit(1)
	}
	if err := generate(f); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "Error writing schema: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}

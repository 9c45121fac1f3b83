package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verifyURLSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"imageUrl": {"type": "string", "format": "uri", "pattern": "^https?://"},
		"autoQuery": {"type": "boolean"}
	},
	"required": ["imageUrl"],
	"additionalProperties": false
}`

var verifyURLRequestSchema = mustCompile("verify-url.json", verifyURLSchema)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateVerifyURL checks a request body and returns the first violation
// in a form fit for the client.
func validateVerifyURL(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("請求格式錯誤: %w", err)
	}

	err := verifyURLRequestSchema.Validate(v)
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if field == "" {
			return fmt.Errorf("請求格式錯誤: %s", leaf.Message)
		}
		return fmt.Errorf("請求格式錯誤: %s %s", field, leaf.Message)
	}
	return err
}

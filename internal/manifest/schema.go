package manifest

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// testCaseSchemaV1, suiteSchemaV1 and planSchemaV1 are the JSON Schemas that
// reject unknown top-level fields, except for the `extensions` property which
// is the forward-compatible extension point every descriptor carries.
const testCaseSchemaV1 = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["schemaVersion", "id", "version", "name", "category", "parameters"],
  "additionalProperties": false,
  "properties": {
    "schemaVersion": {"type": "integer", "minimum": 1},
    "id": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "version": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "name": {"type": "string", "minLength": 1},
    "category": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "privilege": {"type": "string", "enum": ["user", "adminPreferred", "adminRequired"]},
    "timeoutSec": {"type": "number", "exclusiveMinimum": 0},
    "tags": {"type": "array", "items": {"type": "string"}},
    "parameters": {"type": "array", "items": {"$ref": "#/definitions/parameter"}},
    "extensions": {"type": "object"}
  },
  "definitions": {
    "parameter": {
      "type": "object",
      "required": ["name", "type", "required"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "type": {"type": "string", "enum": ["int", "double", "string", "boolean", "path", "file", "folder", "enum", "json"]},
        "required": {"type": "boolean"},
        "default": {},
        "min": {"type": "number"},
        "max": {"type": "number"},
        "enumValues": {"type": "array", "items": {"type": "string"}},
        "unit": {"type": "string"},
        "pattern": {"type": "string"},
        "help": {"type": "string"},
        "uiHint": {"type": "string"}
      }
    }
  }
}`

const suiteSchemaV1 = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["schemaVersion", "id", "version", "nodes"],
  "additionalProperties": false,
  "properties": {
    "schemaVersion": {"type": "integer", "minimum": 1},
    "id": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "version": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "controls": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "repeat": {"type": "integer", "minimum": 1},
        "maxParallel": {"type": "integer", "minimum": 1},
        "continueOnFailure": {"type": "boolean"},
        "retryOnError": {"type": "integer", "minimum": 0},
        "timeoutPolicy": {"type": "string", "enum": ["abortSuite", "continueSuite"]}
      }
    },
    "environment": {"type": "object", "additionalProperties": {"type": "string"}},
    "nodes": {"type": "array", "items": {"$ref": "#/definitions/node"}},
    "extensions": {"type": "object"}
  },
  "definitions": {
    "node": {
      "type": "object",
      "required": ["nodeId", "ref"],
      "additionalProperties": false,
      "properties": {
        "nodeId": {"type": "string", "minLength": 1},
        "ref": {"type": "string", "minLength": 1},
        "inputs": {"type": "object"}
      }
    }
  }
}`

const planSchemaV1 = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["schemaVersion", "id", "version", "suites"],
  "additionalProperties": false,
  "properties": {
    "schemaVersion": {"type": "integer", "minimum": 1},
    "id": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "version": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
    "environment": {"type": "object", "additionalProperties": {"type": "string"}},
    "suites": {"type": "array", "items": {"$ref": "#/definitions/node"}},
    "extensions": {"type": "object"}
  },
  "definitions": {
    "node": {
      "type": "object",
      "required": ["nodeId", "ref"],
      "additionalProperties": false,
      "properties": {
        "nodeId": {"type": "string", "minLength": 1},
        "ref": {"type": "string", "minLength": 1}
      }
    }
  }
}`

type compiledSchemas struct {
	once      sync.Once
	testCase  *jsonschema.Schema
	suite     *jsonschema.Schema
	plan      *jsonschema.Schema
	compileErr error
}

var schemas compiledSchemas

func (c *compiledSchemas) ensure() error {
	c.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compile := func(url, text string) (*jsonschema.Schema, error) {
			if err := compiler.AddResource(url, mustJSONReader(text)); err != nil {
				return nil, err
			}
			return compiler.Compile(url)
		}
		var err error
		if c.testCase, err = compile("testcase.schema.json", testCaseSchemaV1); err != nil {
			c.compileErr = fmt.Errorf("compiling testcase schema: %w", err)
			return
		}
		if c.suite, err = compile("suite.schema.json", suiteSchemaV1); err != nil {
			c.compileErr = fmt.Errorf("compiling suite schema: %w", err)
			return
		}
		if c.plan, err = compile("plan.schema.json", planSchemaV1); err != nil {
			c.compileErr = fmt.Errorf("compiling plan schema: %w", err)
			return
		}
	})
	return c.compileErr
}

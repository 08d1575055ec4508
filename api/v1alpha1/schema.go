package v1alpha1

// rolloutSchema is the JSON schema every Rollout manifest must satisfy
// before semantic validation runs. One-of constraints on steps and provider
// specs are enforced semantically, where better error messages are possible.
const rolloutSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "revision": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "setWeight": { "type": "integer", "minimum": 0, "maximum": 100 },
          "pause": {
            "type": "object",
            "properties": { "duration": { "type": "string" } }
          },
          "analysis": {
            "type": "object",
            "required": ["template"],
            "properties": { "template": { "type": "string", "minLength": 1 } }
          }
        }
      }
    },
    "analysisTemplates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "metrics"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "metrics": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["name", "provider"],
              "properties": {
                "name": { "type": "string", "minLength": 1 },
                "interval": { "type": "string" },
                "count": { "type": "integer", "minimum": 1 },
                "failureLimit": { "type": "integer", "minimum": 1 },
                "inconclusiveLimit": { "type": "integer", "minimum": 0 },
                "failOnInconclusive": { "type": "boolean" },
                "provider": {
                  "type": "object",
                  "properties": {
                    "query": {
                      "type": "object",
                      "required": ["address", "query", "successCondition"],
                      "properties": {
                        "address": { "type": "string", "minLength": 1 },
                        "query": { "type": "string", "minLength": 1 },
                        "successCondition": { "type": "string", "minLength": 1 },
                        "credentialRef": { "$ref": "#/definitions/credentialRef" }
                      }
                    },
                    "probe": {
                      "type": "object",
                      "required": ["url"],
                      "properties": {
                        "url": { "type": "string", "minLength": 1 },
                        "method": { "type": "string" },
                        "expectStatus": { "type": "integer" },
                        "maxLatency": { "type": "string" },
                        "headers": {
                          "type": "object",
                          "additionalProperties": { "type": "string" }
                        },
                        "credentialHeaders": {
                          "type": "object",
                          "additionalProperties": { "$ref": "#/definitions/credentialRef" }
                        },
                        "credentialRef": { "$ref": "#/definitions/credentialRef" }
                      }
                    },
                    "exec": {
                      "type": "object",
                      "required": ["command"],
                      "properties": {
                        "command": { "type": "string", "minLength": 1 },
                        "args": { "type": "array", "items": { "type": "string" } },
                        "env": {
                          "type": "object",
                          "additionalProperties": { "type": "string" }
                        },
                        "credentialEnv": {
                          "type": "object",
                          "additionalProperties": { "$ref": "#/definitions/credentialRef" }
                        },
                        "timeout": { "type": "string" }
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  },
  "definitions": {
    "credentialRef": {
      "type": "object",
      "required": ["name"],
      "properties": { "name": { "type": "string", "minLength": 1 } }
    }
  }
}`

// Package docs registers the swagger document served on /swagger.
// Regenerate with: swag init -g cmd/app/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/ip/register": {
            "post": {
                "description": "Binds a SHA-256 file hash to a new proof record and submits it to OpenTimestamps calendars",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ip"],
                "summary": "Register a file hash",
                "parameters": [
                    {"type": "string", "description": "Telegram Mini App init data", "name": "X-Telegram-Init-Data", "in": "header"},
                    {"description": "File to register", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.RegisterResponse"}},
                    "400": {"description": "Invalid hash or missing fields", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "401": {"description": "Invalid init data", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "409": {"description": "Hash already registered", "schema": {"$ref": "#/definitions/models.DuplicateResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/ip/verify/{hash}": {
            "get": {
                "description": "Looks a hash up; an unknown hash is a successful lookup with exists=false",
                "produces": ["application/json"],
                "tags": ["ip"],
                "summary": "Verify a file hash",
                "parameters": [{"type": "string", "description": "SHA-256 hex digest", "name": "hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.VerifyResponse"}},
                    "400": {"description": "Invalid hash", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/ip/certificate/{hash}": {
            "get": {
                "description": "Renders a PDF certificate with a QR code linking to the verification page",
                "produces": ["application/pdf"],
                "tags": ["ip"],
                "summary": "Download certificate",
                "parameters": [{"type": "string", "description": "SHA-256 hex digest", "name": "hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Invalid hash", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "404": {"description": "Proof not found", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/ip/proof/{hash}/ots": {
            "get": {
                "description": "Returns the raw detached .ots proof, verifiable with any OpenTimestamps client",
                "produces": ["application/vnd.opentimestamps.v1"],
                "tags": ["ip"],
                "summary": "Download OpenTimestamps proof",
                "parameters": [{"type": "string", "description": "SHA-256 hex digest", "name": "hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Invalid hash", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "404": {"description": "Proof not found or not submitted yet", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/ip/upgrade/{hash}": {
            "post": {
                "description": "Submits a pending proof or upgrades an anchoring one without waiting for the worker",
                "produces": ["application/json"],
                "tags": ["ip"],
                "summary": "Advance anchoring now",
                "parameters": [{"type": "string", "description": "SHA-256 hex digest", "name": "hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.VerifyResponse"}},
                    "400": {"description": "Invalid hash", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "404": {"description": "Proof not found", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "middleware.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": false},
                "code": {"type": "string", "example": "INVALID_HASH"},
                "message": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true},
                "requestId": {"type": "string"}
            }
        },
        "models.Metadata": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "tags": {"type": "array", "items": {"type": "string"}}
            }
        },
        "models.RegisterRequest": {
            "type": "object",
            "required": ["fileHash", "fileName", "fileSize", "mimeType", "userId"],
            "properties": {
                "fileHash": {"type": "string", "example": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
                "fileName": {"type": "string", "example": "contract.pdf"},
                "fileSize": {"type": "integer", "example": 2048},
                "mimeType": {"type": "string", "example": "application/pdf"},
                "userId": {"type": "string", "example": "u1"},
                "telegramId": {"type": "integer", "example": 123456789},
                "metadata": {"$ref": "#/definitions/models.Metadata"}
            }
        },
        "models.RegisterResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "proofId": {"type": "string"},
                "fileHash": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "anchoring", "confirmed"]},
                "createdAt": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "models.DuplicateResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": false},
                "message": {"type": "string"},
                "existingProofId": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "models.ProofView": {
            "type": "object",
            "properties": {
                "fileHash": {"type": "string"},
                "fileName": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "anchoring", "confirmed"]},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"},
                "bitcoinTxId": {"type": "string"},
                "bitcoinBlockHeight": {"type": "integer"},
                "confirmationDate": {"type": "string"}
            }
        },
        "models.VerifyResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "exists": {"type": "boolean"},
                "proof": {"$ref": "#/definitions/models.ProofView"},
                "message": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "IP Proof API",
	Description:      "Registers file hashes, anchors them in Bitcoin through OpenTimestamps and issues PDF certificates.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

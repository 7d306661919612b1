// Package docs registers the chatdemo Swagger spec with swaggo/swag, in
// the format `swag init` would normally generate from the annotations on
// cmd/chatdemo/main.go. Hand-maintained here since the spec surface
// (three REST endpoints) is small enough not to warrant running the
// generator as part of the build.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/auth/login": {
            "post": {
                "description": "Issues a bearer token asserting the given display name as uid",
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Mint a demo session token",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/history/{uid}": {
            "get": {
                "description": "Returns the most recent chat messages to or from uid",
                "produces": ["application/json"],
                "tags": ["history"],
                "summary": "Fetch chat history",
                "parameters": [
                    {"type": "string", "name": "uid", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/chsk": {
            "get": {
                "description": "WebSocket upgrade or Ajax long-poll handshake, per the channel-socket protocol",
                "tags": ["chsk"],
                "summary": "Channel-socket handshake/poll",
                "responses": {
                    "101": {"description": "Switching Protocols (WebSocket)"},
                    "200": {"description": "OK (Ajax long-poll)"}
                }
            },
            "post": {
                "description": "One-shot Ajax event delivery",
                "consumes": ["application/x-www-form-urlencoded"],
                "tags": ["chsk"],
                "summary": "Channel-socket Ajax POST",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "chatdemo API",
	Description:      "Demo application built on the chansock channel-socket library",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// Package docs holds the OpenAPI document served on /swagger. Regenerate
// with `swag init -g cmd/server/main.go -o internal/docs`.
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
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Login",
                "parameters": [
                    {"description": "Login credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.loginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.authResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/rooms": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Rooms visible to the caller",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Room"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Create a room",
                "parameters": [
                    {"description": "Room", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.createRoomRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Room"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/rooms/{room_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Room detail",
                "parameters": [{"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Room"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Update a room",
                "parameters": [
                    {"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true},
                    {"description": "Changes", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.updateRoomRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Room"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Delete a room",
                "parameters": [{"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.messageResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/rooms/{room_id}/assign-users": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Replace the assigned users of a room",
                "parameters": [
                    {"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true},
                    {"description": "User ids", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.assignUsersRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Room"}}
                }
            }
        },
        "/rooms/{room_id}/access-check": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Check room access",
                "parameters": [{"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ports.AccessResult"}}
                }
            }
        },
        "/rooms/{room_id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Room history",
                "parameters": [
                    {"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true},
                    {"type": "integer", "description": "Number of trailing messages", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.historyResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Wipe room history (admin)",
                "parameters": [{"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.messageResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "List accounts",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.User"}}}
                }
            }
        },
        "/admin/users": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Create an account (admin)",
                "parameters": [
                    {"description": "Account", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.createUserRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.User"}}
                }
            }
        },
        "/admin/users/{user_id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Disable an account (admin)",
                "parameters": [{"type": "string", "description": "User id", "name": "user_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.messageResponse"}}
                }
            }
        },
        "/models": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["ai"],
                "summary": "Models offered by the assistant endpoint",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.modelsResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/tts": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["audio/mpeg"],
                "tags": ["tts"],
                "summary": "Synthesize speech",
                "parameters": [
                    {"description": "Text", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.speechRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/tts/voices": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["tts"],
                "summary": "Available voices",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/tts.Voice"}}}
                }
            }
        },
        "/tts/{room_id}": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["audio/mpeg"],
                "tags": ["tts"],
                "summary": "Synthesize speech with a room voice",
                "parameters": [
                    {"type": "string", "description": "Room id", "name": "room_id", "in": "path", "required": true},
                    {"description": "Text", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.speechRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}}
                }
            }
        },
        "/ws/{room_id}": {
            "get": {
                "tags": ["realtime"],
                "summary": "Open a realtime session",
                "parameters": [
                    {"type": "string", "description": "Room id, defaults to the general room", "name": "room_id", "in": "path", "required": true},
                    {"type": "string", "description": "Bearer token", "name": "token", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/health/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.readinessResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.readinessResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.AIConfig": {
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "model": {"type": "string"},
                "system_prompt": {"type": "string"},
                "voice_id": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "room_id": {"type": "string"},
                "sender_id": {"type": "string"},
                "sender_name": {"type": "string"},
                "body": {"type": "string"},
                "kind": {"type": "string"},
                "sequence": {"type": "integer"},
                "reply_to": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "domain.Room": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "visibility": {"type": "string", "enum": ["public", "private"]},
                "allowed_users": {"type": "array", "items": {"type": "string"}},
                "created_by": {"type": "string"},
                "ai": {"$ref": "#/definitions/domain.AIConfig"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "username": {"type": "string"},
                "full_name": {"type": "string"},
                "avatar_color": {"type": "string"},
                "role": {"type": "string", "enum": ["admin", "user", "kid"]},
                "is_active": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "last_login": {"type": "string"}
            }
        },
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"}
            }
        },
        "handler.assignUsersRequest": {
            "type": "object",
            "required": ["user_ids"],
            "properties": {
                "user_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handler.authResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"},
                "user": {"$ref": "#/definitions/domain.User"}
            }
        },
        "handler.createRoomRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string", "maxLength": 64},
                "description": {"type": "string", "maxLength": 500},
                "visibility": {"type": "string", "enum": ["public", "private"]},
                "allowed_users": {"type": "array", "items": {"type": "string"}},
                "ai": {"$ref": "#/definitions/domain.AIConfig"}
            }
        },
        "handler.createUserRequest": {
            "type": "object",
            "required": ["password", "role", "username"],
            "properties": {
                "username": {"type": "string", "maxLength": 32, "minLength": 3},
                "password": {"type": "string", "minLength": 8},
                "full_name": {"type": "string", "maxLength": 100},
                "avatar_color": {"type": "string"},
                "role": {"type": "string", "enum": ["admin", "user", "kid"]}
            }
        },
        "handler.historyResponse": {
            "type": "object",
            "properties": {
                "room_id": {"type": "string"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}
            }
        },
        "handler.loginRequest": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "handler.messageResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "handler.modelsResponse": {
            "type": "object",
            "properties": {
                "models": {"type": "array", "items": {"type": "string"}},
                "default": {"type": "string"}
            }
        },
        "handler.readinessResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "dependencies": {"type": "object", "additionalProperties": {"type": "object"}}
            }
        },
        "handler.speechRequest": {
            "type": "object",
            "required": ["text"],
            "properties": {
                "text": {"type": "string"},
                "voice_id": {"type": "string"}
            }
        },
        "handler.updateRoomRequest": {
            "type": "object",
            "properties": {
                "description": {"type": "string"},
                "visibility": {"type": "string", "enum": ["public", "private"]},
                "ai": {"$ref": "#/definitions/domain.AIConfig"}
            }
        },
        "ports.AccessResult": {
            "type": "object",
            "properties": {
                "room_id": {"type": "string"},
                "can_access": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        },
        "tts.Voice": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Styx Chat API",
	Description:      "Multi-room realtime chat with an AI participant.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

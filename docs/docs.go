// Package docs registers the Swagger 2.0 description of the HTTP API with
// swag, served by gin-swagger under /swagger when SWAGGER_ENABLED is set.
// Regenerate with `swag init -g internal/http/router.go -o docs` after
// changing handler annotations.
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
                "tags": ["Auth"],
                "summary": "Development login",
                "operationId": "login",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TokenResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Auth"],
                "summary": "Current identity",
                "operationId": "me",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/auth.Identity"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Auth"],
                "summary": "Log out",
                "operationId": "logout",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}}
                }
            }
        },
        "/upload": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "Upload a PDF",
                "operationId": "uploadDocument",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "file", "description": "PDF file", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.UploadResult"}},
                    "400": {"description": "Not a PDF, empty, or no extractable text", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "File exceeds the upload limit", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/documents": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "List documents",
                "operationId": "listDocuments",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handlers.DocumentInfo"}}}
                }
            }
        },
        "/documents/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "Delete a document",
                "operationId": "deleteDocument",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}},
                    "403": {"description": "Owned by another user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/documents/{id}/text": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "Extracted text of a document",
                "operationId": "documentText",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TextResponse"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/documents/{id}/download": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "Download the original PDF",
                "operationId": "downloadDocument",
                "produces": ["application/pdf"],
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}}
            }
        },
        "/documents/{id}/preview": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Documents"],
                "summary": "Show the PDF inline",
                "operationId": "previewDocument",
                "produces": ["application/pdf"],
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}}
            }
        },
        "/chat/query": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "Ask a question about a document",
                "operationId": "chatQuery",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Client key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.QueryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.QueryResult"}, "headers": {"Idempotency-Replayed": {"type": "string"}}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Session or document owned by another user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Document or session not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/sessions/all": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "List all chat sessions of the current user",
                "operationId": "listAllSessions",
                "parameters": [{"type": "string", "name": "If-None-Match", "in": "header"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionListResponse"}, "headers": {"ETag": {"type": "string"}}},
                    "304": {"description": "Not Modified"}
                }
            }
        },
        "/chat/sessions/{document_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "List chat sessions of a document",
                "operationId": "listDocumentSessions",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "document_id", "in": "path", "required": true},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionListResponse"}, "headers": {"ETag": {"type": "string"}}},
                    "304": {"description": "Not Modified"}
                }
            }
        },
        "/chat/sessions/{document_id}/latest": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "Latest chat session of a document",
                "operationId": "latestSession",
                "parameters": [{"type": "string", "format": "uuid", "name": "document_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HistoryResponse"}},
                    "404": {"description": "Document not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/history/{session_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "Full transcript of a chat session",
                "operationId": "chatHistory",
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "session_id", "in": "path", "required": true},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HistoryResponse"}, "headers": {"ETag": {"type": "string"}}},
                    "304": {"description": "Not Modified"},
                    "403": {"description": "Access denied to this chat session", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Chat session not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/sessions/{session_id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "Delete a chat session",
                "operationId": "deleteSession",
                "parameters": [{"type": "string", "format": "uuid", "name": "session_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}},
                    "403": {"description": "Access denied to this chat session", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Chat session not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/sessions/{session_id}/export": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Chat"],
                "summary": "Export a chat session as Markdown",
                "operationId": "exportSession",
                "parameters": [{"type": "string", "format": "uuid", "name": "session_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Export"}}
                }
            }
        }
    },
    "definitions": {
        "auth.Identity": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "email": {"type": "string"},
                "role": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "message_id": {"type": "string"},
                "session_id": {"type": "string"},
                "sender": {"type": "string", "enum": ["user", "ai"]},
                "text": {"type": "string"},
                "sources": {"type": "array", "items": {"type": "string"}},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.DocumentInfo": {
            "type": "object",
            "properties": {
                "document_id": {"type": "string"},
                "filename": {"type": "string"},
                "upload_date": {"type": "string", "format": "date-time"},
                "page_count": {"type": "integer"},
                "text_length": {"type": "integer"},
                "chunk_count": {"type": "integer"},
                "status": {"type": "string", "example": "processed"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.HistoryResponse": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "document_id": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}
            }
        },
        "handlers.LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "example": "dev@example.com"},
                "password": {"type": "string", "example": "password"}
            }
        },
        "handlers.MessageResponse": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "handlers.QueryRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "document_id": {"type": "string"},
                "session_id": {"type": "string"}
            }
        },
        "handlers.SessionListResponse": {
            "type": "object",
            "properties": {
                "sessions": {"type": "array", "items": {"$ref": "#/definitions/services.SessionSummary"}}
            }
        },
        "handlers.TextResponse": {
            "type": "object",
            "properties": {"text": {"type": "string"}}
        },
        "handlers.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "token_type": {"type": "string", "example": "bearer"},
                "expires_in": {"type": "integer", "example": 3600}
            }
        },
        "services.Export": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "filename": {"type": "string"}
            }
        },
        "services.QueryResult": {
            "type": "object",
            "properties": {
                "response": {"type": "string"},
                "session_id": {"type": "string"},
                "message_id": {"type": "string"},
                "sources": {"type": "array", "items": {"type": "string"}}
            }
        },
        "services.SessionSummary": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "document_id": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"},
                "message_count": {"type": "integer"},
                "last_message_preview": {"type": "string"}
            }
        },
        "services.UploadResult": {
            "type": "object",
            "properties": {
                "document_id": {"type": "string"},
                "filename": {"type": "string"},
                "status": {"type": "string"},
                "page_count": {"type": "integer"},
                "text_length": {"type": "integer"},
                "chunk_count": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the token.",
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
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "PDF Chat API",
	Description:      "Upload PDFs and ask questions about them.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
